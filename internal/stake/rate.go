// Package stake tracks pool performance as a single cumulative return rate and
// values depositor balances lazily against it.
package stake

import (
	"errors"
	"fmt"

	"prizepool/internal/fixedpoint"
)

// ErrRateIncrease is returned when a return would push the rate above its
// current value. Gains are paid out as yield, never compounded into the rate.
var ErrRateIncrease = errors.New("cumulative return rate cannot increase")

// Rate is the pool's cumulative return since genesis. It starts at 1 and only
// moves down, on loss epochs.
type Rate struct {
	value fixedpoint.Ratio
}

// Unity returns the genesis rate of exactly 1.
func Unity() Rate {
	return Rate{value: fixedpoint.FromWhole[fixedpoint.Internal](1)}
}

// RestoreRate rebuilds a persisted rate.
func RestoreRate(v fixedpoint.Ratio) (Rate, error) {
	if v.IsZero() {
		return Rate{}, fmt.Errorf("restore rate: %w", fixedpoint.ErrDivisionByZero)
	}
	return Rate{value: v}, nil
}

// Value returns the rate as an 18 digit ratio. The zero Rate reports unity.
func (r Rate) Value() fixedpoint.Ratio {
	if r.value.IsZero() {
		return Unity().value
	}
	return r.value
}

func (r Rate) Equal(o Rate) bool {
	return r.Value().Equal(o.Value())
}

func (r Rate) Cmp(o Rate) int {
	return r.Value().Cmp(o.Value())
}

func (r Rate) String() string {
	return r.Value().String()
}

// ApplyReturn scales the rate by returned/invested. A breakeven leaves the rate
// unchanged; a gain is rejected with ErrRateIncrease.
func (r Rate) ApplyReturn(returned, invested fixedpoint.Amount) (Rate, error) {
	if invested.IsZero() {
		return Rate{}, fmt.Errorf("apply return: %w", fixedpoint.ErrDivisionByZero)
	}
	switch returned.Cmp(invested) {
	case 0:
		return r, nil
	case 1:
		return Rate{}, ErrRateIncrease
	}

	ratio, err := fixedpoint.MulDiv(Unity().value, returned, invested)
	if err != nil {
		return Rate{}, fmt.Errorf("apply return ratio: %w", err)
	}
	next, err := r.Value().Mul(ratio)
	if err != nil {
		return Rate{}, fmt.Errorf("apply return: %w", err)
	}
	if next.IsZero() {
		return Rate{}, fmt.Errorf("apply return: rate truncated to zero: %w", fixedpoint.ErrUnderflow)
	}
	return Rate{value: next}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Rate) MarshalText() ([]byte, error) {
	return r.Value().MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rate) UnmarshalText(text []byte) error {
	var v fixedpoint.Ratio
	if err := v.UnmarshalText(text); err != nil {
		return err
	}
	restored, err := RestoreRate(v)
	if err != nil {
		return err
	}
	*r = restored
	return nil
}
