// Package fixedpoint implements unsigned base 10 fixed point numbers.
//
// A Decimal stores value * 10^D in a wide unsigned integer, where D is fixed by
// the Precision type parameter. The backing integer is bounded to 192 bits;
// every operation that would leave that range, or go negative, returns an
// error instead of wrapping.
//
//	1.5 at Display precision = 1_500_000 * 10^-6
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// MaxBits is the width of the backing integer.
const MaxBits = 192

var (
	ErrOverflow       = errors.New("fixed point overflow")
	ErrUnderflow      = errors.New("fixed point underflow")
	ErrDivisionByZero = errors.New("fixed point division by zero")
	ErrInvalidNumber  = errors.New("invalid fixed point number")
)

// Precision fixes the number of fractional digits of a Decimal.
type Precision interface {
	Digits() uint
}

// Display is the precision of user facing amounts (6 digits).
type Display struct{}

func (Display) Digits() uint { return 6 }

// Internal is the precision of rates and intermediate products (18 digits).
type Internal struct{}

func (Internal) Digits() uint { return 18 }

// Decimal is an unsigned fixed point number with precision P.
// The zero value is 0.
type Decimal[P Precision] struct {
	raw uint256.Int
}

// Amount is a 6 digit decimal.
type Amount = Decimal[Display]

// Ratio is an 18 digit decimal.
type Ratio = Decimal[Internal]

// 10^57 is the largest power of ten below 2^192.
var pow10 [58]uint256.Int

func init() {
	pow10[0].SetUint64(1)
	ten := uint256.NewInt(10)
	for i := 1; i < len(pow10); i++ {
		pow10[i].Mul(&pow10[i-1], ten)
	}
}

func digitsOf[P Precision]() uint {
	var p P
	return p.Digits()
}

func scaleOf[P Precision]() *uint256.Int {
	return &pow10[digitsOf[P]()]
}

func bounded[P Precision](z *uint256.Int) (Decimal[P], error) {
	if z.BitLen() > MaxBits {
		return Decimal[P]{}, ErrOverflow
	}
	return Decimal[P]{raw: *z}, nil
}

// FromWhole returns n at precision P. It cannot overflow for any uint64.
func FromWhole[P Precision](n uint64) Decimal[P] {
	var z uint256.Int
	z.Mul(uint256.NewInt(n), scaleOf[P]())
	return Decimal[P]{raw: z}
}

// FromRaw interprets raw as an already scaled value.
func FromRaw[P Precision](raw *uint256.Int) (Decimal[P], error) {
	if raw == nil {
		return Decimal[P]{}, nil
	}
	return bounded[P](raw)
}

// FromScaledBig converts an integer carrying scale fractional digits (for
// example a token balance with its ERC20 decimals) to precision P. Excess
// digits are truncated.
func FromScaledBig[P Precision](v *big.Int, scale uint) (Decimal[P], error) {
	if v == nil {
		return Decimal[P]{}, nil
	}
	if v.Sign() < 0 {
		return Decimal[P]{}, ErrUnderflow
	}
	d := digitsOf[P]()
	out := new(big.Int).Set(v)
	switch {
	case scale < d:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d-scale)), nil))
	case scale > d:
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale-d)), nil))
	}
	z, overflow := uint256.FromBig(out)
	if overflow {
		return Decimal[P]{}, ErrOverflow
	}
	return bounded[P](z)
}

// Raw returns a copy of the scaled integer.
func (d Decimal[P]) Raw() *uint256.Int {
	return new(uint256.Int).Set(&d.raw)
}

// Digits returns the number of fractional digits.
func (d Decimal[P]) Digits() uint {
	return digitsOf[P]()
}

func (d Decimal[P]) IsZero() bool {
	return d.raw.IsZero()
}

// Cmp returns -1, 0 or +1.
func (d Decimal[P]) Cmp(o Decimal[P]) int {
	return d.raw.Cmp(&o.raw)
}

func (d Decimal[P]) Equal(o Decimal[P]) bool {
	return d.raw.Eq(&o.raw)
}

func (d Decimal[P]) LessThan(o Decimal[P]) bool {
	return d.raw.Lt(&o.raw)
}

// String renders exactly D fractional digits.
func (d Decimal[P]) String() string {
	digits := int(digitsOf[P]())
	text := d.raw.ToBig().String()
	if digits == 0 {
		return text
	}
	if len(text) <= digits {
		text = strings.Repeat("0", digits-len(text)+1) + text
	}
	cut := len(text) - digits
	return text[:cut] + "." + text[cut:]
}

// Parse reads a decimal number. Grouping characters ',' and '_' are ignored;
// fractional digits beyond the precision are truncated.
func Parse[P Precision](s string) (Decimal[P], error) {
	input := strings.TrimSpace(s)
	var whole, frac strings.Builder
	seenPoint := false
	for _, r := range input {
		switch {
		case r == '.':
			if seenPoint {
				return Decimal[P]{}, fmt.Errorf("%w: more than one decimal point in %q", ErrInvalidNumber, s)
			}
			seenPoint = true
		case r == ',' || r == '_':
		case r >= '0' && r <= '9':
			if seenPoint {
				frac.WriteRune(r)
			} else {
				whole.WriteRune(r)
			}
		default:
			return Decimal[P]{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidNumber, r, s)
		}
	}
	if whole.Len() == 0 && frac.Len() == 0 {
		return Decimal[P]{}, fmt.Errorf("%w: no digits in %q", ErrInvalidNumber, s)
	}

	digits := int(digitsOf[P]())
	fraction := frac.String()
	if len(fraction) > digits {
		fraction = fraction[:digits]
	} else {
		fraction += strings.Repeat("0", digits-len(fraction))
	}

	value, ok := new(big.Int).SetString(whole.String()+fraction, 10)
	if !ok {
		return Decimal[P]{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	z, overflow := uint256.FromBig(value)
	if overflow {
		return Decimal[P]{}, ErrOverflow
	}
	return bounded[P](z)
}

// MustParse is Parse for constants; it panics on error.
func MustParse[P Precision](s string) Decimal[P] {
	d, err := Parse[P](s)
	if err != nil {
		panic(err)
	}
	return d
}

// MustAmount parses a 6 digit constant.
func MustAmount(s string) Amount {
	return MustParse[Display](s)
}

// MustRatio parses an 18 digit constant.
func MustRatio(s string) Ratio {
	return MustParse[Internal](s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal[P]) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal[P]) UnmarshalText(text []byte) error {
	parsed, err := Parse[P](string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
