package postgres

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/ledger"
	"prizepool/internal/model"
	"prizepool/internal/stake"
)

// Set PRIZEPOOL_TEST_PG_DSN to run against a scratch database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PRIZEPOOL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PRIZEPOOL_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"pool_state", "epochs", "depositors"} {
		if _, err := store.pool.Exec(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadState(ctx); ok || err != nil {
		t.Fatalf("empty state: ok=%v err=%v", ok, err)
	}
	if _, err := store.LoadEpoch(ctx, 1); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rate, err := stake.Unity().ApplyReturn(fixedpoint.MustAmount("90"), fixedpoint.MustAmount("100"))
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	balance := stake.RestoreFloatingBalance(fixedpoint.MustAmount("123.456789"), rate)
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")
	state := model.PoolState{
		Index:                2,
		Status:               model.StatusRunning,
		CumulativeReturnRate: rate,
		PendingFunds:         model.PendingFunds{Insurance: fixedpoint.MustAmount("10.5"), Tier2Prize: fixedpoint.MustAmount("1")},
		TotalDeposits:        balance,
	}
	ep := model.Epoch{
		Index:         2,
		Status:        model.StatusRunning,
		StartAt:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ExpectedEndAt: time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC),
	}
	dep := model.Depositor{Owner: owner, Balance: balance}

	if err := store.Commit(ctx, ledger.Change{State: &state, Epoch: &ep, Depositors: []model.Depositor{dep}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	gotState, ok, err := store.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("load state: ok=%v err=%v", ok, err)
	}
	want := state
	want.Version = 1
	if !reflect.DeepEqual(gotState, want) {
		t.Fatalf("state mismatch: %+v != %+v", gotState, want)
	}
	gotEpoch, err := store.LoadEpoch(ctx, 2)
	if err != nil {
		t.Fatalf("load epoch: %v", err)
	}
	if !reflect.DeepEqual(gotEpoch, ep) {
		t.Fatalf("epoch mismatch: %+v != %+v", gotEpoch, ep)
	}
	gotDep, ok, err := store.LoadDepositor(ctx, owner)
	if err != nil || !ok {
		t.Fatalf("load depositor: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(gotDep, dep) {
		t.Fatalf("depositor mismatch: %+v != %+v", gotDep, dep)
	}
}

func TestStoreRejectsStaleVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	genesis := model.PoolState{Index: 1, Status: model.StatusRunning, CumulativeReturnRate: stake.Unity()}
	if err := store.Commit(ctx, ledger.Change{State: &genesis}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	read, _, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	a, b := read, read
	a.Status = model.StatusYielding
	if err := store.Commit(ctx, ledger.Change{State: &a}); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	b.Status = model.StatusYielding
	ep := model.Epoch{Index: 1, Status: model.StatusYielding}
	if err := store.Commit(ctx, ledger.Change{State: &b, Epoch: &ep}); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := store.LoadEpoch(ctx, 1); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("conflicting change was partially written: %v", err)
	}
	if err := store.Commit(ctx, ledger.Change{State: &genesis}); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict for genesis, got %v", err)
	}
}

func TestParseBalance(t *testing.T) {
	b, err := parseBalance("5.000000", "0.500000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	amount, rate := b.Parts()
	if amount.String() != "5.000000" || rate.String() != "0.500000000000000000" {
		t.Fatalf("parts: %s %s", amount, rate)
	}
	if _, err := parseBalance("1", "0"); err == nil {
		t.Fatalf("expected error for zero rate")
	}
}
