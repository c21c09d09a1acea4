package stake

import (
	"encoding/json"
	"fmt"

	"prizepool/internal/fixedpoint"
)

// FloatingBalance is an amount contributed at StartingRate. Its current value
// is amount * current / starting. Every mutation first rebases to the current
// rate, so the fields are not settable from outside the package.
//
// The zero value is an empty balance at unity.
type FloatingBalance struct {
	amount       fixedpoint.Amount
	startingRate Rate
}

// NewFloatingBalance returns an empty balance at unity.
func NewFloatingBalance() FloatingBalance {
	return FloatingBalance{startingRate: Unity()}
}

// RestoreFloatingBalance rebuilds a persisted balance.
func RestoreFloatingBalance(amount fixedpoint.Amount, startingRate Rate) FloatingBalance {
	return FloatingBalance{amount: amount, startingRate: startingRate}
}

// Parts returns the stored amount and rate snapshot, for persistence.
func (b FloatingBalance) Parts() (fixedpoint.Amount, Rate) {
	return b.amount, b.StartingRate()
}

// StartingRate is the rate at the last mutation.
func (b FloatingBalance) StartingRate() Rate {
	if b.startingRate.value.IsZero() {
		return Unity()
	}
	return b.startingRate
}

// Amount values the balance at the current rate, truncating to 6 digits.
func (b FloatingBalance) Amount(current Rate) (fixedpoint.Amount, error) {
	start := b.StartingRate()
	if start.Equal(current) || b.amount.IsZero() {
		return b.amount, nil
	}

	amount, err := fixedpoint.MulDiv(b.amount, current.Value(), start.Value())
	if err != nil {
		return fixedpoint.Amount{}, fmt.Errorf("balance amount: %w", err)
	}
	return amount, nil
}

// Rebase revalues the balance at the current rate and resets the snapshot.
func (b FloatingBalance) Rebase(current Rate) (FloatingBalance, error) {
	amount, err := b.Amount(current)
	if err != nil {
		return FloatingBalance{}, err
	}
	return FloatingBalance{amount: amount, startingRate: current}, nil
}

// Deposit rebases then adds delta.
func (b FloatingBalance) Deposit(delta fixedpoint.Amount, current Rate) (FloatingBalance, error) {
	rebased, err := b.Rebase(current)
	if err != nil {
		return FloatingBalance{}, err
	}
	amount, err := rebased.amount.Add(delta)
	if err != nil {
		return FloatingBalance{}, fmt.Errorf("deposit %s: %w", delta, err)
	}
	rebased.amount = amount
	return rebased, nil
}

// Withdraw rebases then subtracts delta. It fails with fixedpoint.ErrUnderflow
// when delta exceeds the rebased amount.
func (b FloatingBalance) Withdraw(delta fixedpoint.Amount, current Rate) (FloatingBalance, error) {
	rebased, err := b.Rebase(current)
	if err != nil {
		return FloatingBalance{}, err
	}
	amount, err := rebased.amount.Sub(delta)
	if err != nil {
		return FloatingBalance{}, fmt.Errorf("withdraw %s from %s: %w", delta, rebased.amount, err)
	}
	rebased.amount = amount
	return rebased, nil
}

type balanceJSON struct {
	Amount       fixedpoint.Amount `json:"amount"`
	StartingRate Rate              `json:"starting_rate"`
}

// MarshalJSON implements json.Marshaler.
func (b FloatingBalance) MarshalJSON() ([]byte, error) {
	return json.Marshal(balanceJSON{Amount: b.amount, StartingRate: b.StartingRate()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *FloatingBalance) UnmarshalJSON(data []byte) error {
	var rec balanceJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*b = RestoreFloatingBalance(rec.Amount, rec.StartingRate)
	return nil
}
