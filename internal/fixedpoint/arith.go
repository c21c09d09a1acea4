package fixedpoint

import "github.com/holiman/uint256"

// Add returns d + o.
func (d Decimal[P]) Add(o Decimal[P]) (Decimal[P], error) {
	var z uint256.Int
	if _, overflow := z.AddOverflow(&d.raw, &o.raw); overflow {
		return Decimal[P]{}, ErrOverflow
	}
	return bounded[P](&z)
}

// Sub returns d - o, failing if o > d.
func (d Decimal[P]) Sub(o Decimal[P]) (Decimal[P], error) {
	if d.raw.Lt(&o.raw) {
		return Decimal[P]{}, ErrUnderflow
	}
	var z uint256.Int
	z.Sub(&d.raw, &o.raw)
	return Decimal[P]{raw: z}, nil
}

// SaturatingSub returns max(0, d - o).
func (d Decimal[P]) SaturatingSub(o Decimal[P]) Decimal[P] {
	if d.raw.Lt(&o.raw) {
		return Decimal[P]{}
	}
	var z uint256.Int
	z.Sub(&d.raw, &o.raw)
	return Decimal[P]{raw: z}
}

// Mul returns d * o truncated at the D-th fractional digit. The unscaled
// product must itself fit in MaxBits.
func (d Decimal[P]) Mul(o Decimal[P]) (Decimal[P], error) {
	var z uint256.Int
	if _, overflow := z.MulOverflow(&d.raw, &o.raw); overflow || z.BitLen() > MaxBits {
		return Decimal[P]{}, ErrOverflow
	}
	z.Div(&z, scaleOf[P]())
	return Decimal[P]{raw: z}, nil
}

// Div returns d / o truncated at the D-th fractional digit.
func (d Decimal[P]) Div(o Decimal[P]) (Decimal[P], error) {
	if o.raw.IsZero() {
		return Decimal[P]{}, ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulOverflow(&d.raw, scaleOf[P]()); overflow || z.BitLen() > MaxBits {
		return Decimal[P]{}, ErrOverflow
	}
	z.Div(&z, &o.raw)
	return Decimal[P]{raw: z}, nil
}

// MulInt multiplies by an integer count.
func (d Decimal[P]) MulInt(n uint64) (Decimal[P], error) {
	var z uint256.Int
	if _, overflow := z.MulOverflow(&d.raw, uint256.NewInt(n)); overflow {
		return Decimal[P]{}, ErrOverflow
	}
	return bounded[P](&z)
}

// DivInt divides by an integer count, truncating.
func (d Decimal[P]) DivInt(n uint64) (Decimal[P], error) {
	if n == 0 {
		return Decimal[P]{}, ErrDivisionByZero
	}
	var z uint256.Int
	z.Div(&d.raw, uint256.NewInt(n))
	return Decimal[P]{raw: z}, nil
}

// Min returns the smaller of a and b.
func Min[P Precision](a, b Decimal[P]) Decimal[P] {
	if a.raw.Lt(&b.raw) {
		return a
	}
	return b
}

// Convert changes precision. Increasing precision is exact; decreasing it
// truncates the dropped digits.
func Convert[To, From Precision](d Decimal[From]) (Decimal[To], error) {
	from, to := digitsOf[From](), digitsOf[To]()
	var z uint256.Int
	switch {
	case to > from:
		if _, overflow := z.MulOverflow(&d.raw, &pow10[to-from]); overflow {
			return Decimal[To]{}, ErrOverflow
		}
		return bounded[To](&z)
	case to < from:
		z.Div(&d.raw, &pow10[from-to])
		return Decimal[To]{raw: z}, nil
	default:
		return Decimal[To]{raw: d.raw}, nil
	}
}

// MulDiv returns d * num / den, truncated once. num and den share a precision,
// so it cancels and the result keeps d's. The intermediate product may use the
// full 256 bits of the backing integer.
func MulDiv[P, Q Precision](d Decimal[P], num, den Decimal[Q]) (Decimal[P], error) {
	if den.raw.IsZero() {
		return Decimal[P]{}, ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulOverflow(&d.raw, &num.raw); overflow {
		return Decimal[P]{}, ErrOverflow
	}
	z.Div(&z, &den.raw)
	return bounded[P](&z)
}

// MulRatios returns d * n * ratios[0] * ratios[1] ..., truncated once at the
// end. At most three ratios are accepted. The intermediate product may use the
// full 256 bits of the backing integer.
func MulRatios[P Precision](d Decimal[P], n uint64, ratios ...Ratio) (Decimal[P], error) {
	shift := uint(len(ratios)) * digitsOf[Internal]()
	if shift >= uint(len(pow10)) {
		return Decimal[P]{}, ErrOverflow
	}
	var z uint256.Int
	if _, overflow := z.MulOverflow(&d.raw, uint256.NewInt(n)); overflow {
		return Decimal[P]{}, ErrOverflow
	}
	for i := range ratios {
		var next uint256.Int
		if _, overflow := next.MulOverflow(&z, &ratios[i].raw); overflow {
			return Decimal[P]{}, ErrOverflow
		}
		z = next
	}
	z.Div(&z, &pow10[shift])
	return bounded[P](&z)
}
