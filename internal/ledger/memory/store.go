// Package memory is an in-process ledger, used by tests and simulations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"prizepool/internal/ledger"
	"prizepool/internal/model"
)

// Store keeps records in maps guarded by a mutex.
type Store struct {
	mu         sync.RWMutex
	state      *model.PoolState
	epochs     map[uint64]model.Epoch
	depositors map[common.Address]model.Depositor
}

func NewStore() *Store {
	return &Store{
		epochs:     make(map[uint64]model.Epoch),
		depositors: make(map[common.Address]model.Depositor),
	}
}

func (s *Store) LoadState(ctx context.Context) (model.PoolState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return model.PoolState{}, false, nil
	}
	return *s.state, true, nil
}

func (s *Store) LoadEpoch(ctx context.Context, index uint64) (model.Epoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.epochs[index]
	if !ok {
		return model.Epoch{}, fmt.Errorf("epoch %d: %w", index, ledger.ErrNotFound)
	}
	return ep, nil
}

func (s *Store) LoadDepositor(ctx context.Context, owner common.Address) (model.Depositor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, ok := s.depositors[owner]
	return dep, ok, nil
}

func (s *Store) Commit(ctx context.Context, change ledger.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ledger.CheckVersion(s.state, change); err != nil {
		return err
	}
	if change.State != nil {
		state := ledger.Next(*change.State)
		s.state = &state
	}
	if change.Epoch != nil {
		s.epochs[change.Epoch.Index] = *change.Epoch
	}
	for _, dep := range change.Depositors {
		s.depositors[dep.Owner] = dep
	}
	return nil
}
