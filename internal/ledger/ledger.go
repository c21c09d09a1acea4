// Package ledger defines the account storage the pool reads its records from
// and commits its computed replacements to.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"prizepool/internal/model"
)

var (
	// ErrNotFound is returned when a requested epoch does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by Commit when the pool state changed after the
	// change was computed. Nothing is written; reload and recompute.
	ErrConflict = errors.New("ledger conflict")
)

// Store persists pool records. Commit must apply a Change atomically: either
// every record in it is written or none is.
type Store interface {
	LoadState(ctx context.Context) (model.PoolState, bool, error)
	LoadEpoch(ctx context.Context, index uint64) (model.Epoch, error)
	LoadDepositor(ctx context.Context, owner common.Address) (model.Depositor, bool, error)
	Commit(ctx context.Context, change Change) error
}

// Change is the set of records one operation replaces.
//
// State.Version is the version of the pool state the change was computed
// from, zero when no state existed. Commit writes the change only if the
// stored state is still at that version, and stores the new state at
// Version+1. A change without State is written unconditionally.
type Change struct {
	State      *model.PoolState
	Epoch      *model.Epoch
	Depositors []model.Depositor
}

// Empty reports whether the change writes nothing.
func (c Change) Empty() bool {
	return c.State == nil && c.Epoch == nil && len(c.Depositors) == 0
}

// CheckVersion compares the stored state against the version the change was
// computed from. stored is nil when no state exists.
func CheckVersion(stored *model.PoolState, change Change) error {
	if change.State == nil {
		return nil
	}
	var current uint64
	if stored != nil {
		current = stored.Version
	}
	if change.State.Version != current {
		return fmt.Errorf("%w: pool state at version %d, change computed from %d", ErrConflict, current, change.State.Version)
	}
	return nil
}

// Next returns the state to store for a change that passed CheckVersion.
func Next(state model.PoolState) model.PoolState {
	state.Version++
	return state
}
