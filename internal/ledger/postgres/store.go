// Package postgres keeps the ledger in Postgres. Amounts are stored as
// NUMERIC and exchanged as decimal text, so no precision is lost in transit.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/ledger"
	"prizepool/internal/model"
	"prizepool/internal/stake"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pool_state (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		epoch_index BIGINT NOT NULL,
		status TEXT NOT NULL,
		cumulative_return_rate NUMERIC(60,18) NOT NULL,
		pending_insurance NUMERIC(60,6) NOT NULL,
		pending_tier2 NUMERIC(60,6) NOT NULL,
		pending_tier3 NUMERIC(60,6) NOT NULL,
		total_deposits NUMERIC(60,6) NOT NULL,
		total_deposits_rate NUMERIC(60,18) NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE pool_state ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0`,
	`CREATE TABLE IF NOT EXISTS epochs (
		epoch_index BIGINT PRIMARY KEY,
		status TEXT NOT NULL,
		record JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS depositors (
		owner TEXT PRIMARY KEY,
		amount NUMERIC(60,6) NOT NULL,
		starting_rate NUMERIC(60,18) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Store provides Postgres persistence for the ledger.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the ledger tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context) (model.PoolState, bool, error) {
	var (
		index, version                int64
		status                        string
		rate, insurance, tier2, tier3 string
		deposits, depositsRate        string
	)
	row := s.pool.QueryRow(ctx, `
		SELECT epoch_index, status, cumulative_return_rate::text,
			pending_insurance::text, pending_tier2::text, pending_tier3::text,
			total_deposits::text, total_deposits_rate::text, version
		FROM pool_state WHERE id = 1
	`)
	if err := row.Scan(&index, &status, &rate, &insurance, &tier2, &tier3, &deposits, &depositsRate, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PoolState{}, false, nil
		}
		return model.PoolState{}, false, err
	}

	state := model.PoolState{
		Index:   uint64(index),
		Status:  model.EpochStatus(status),
		Version: uint64(version),
	}
	var err error
	if state.CumulativeReturnRate, err = parseRate(rate); err != nil {
		return model.PoolState{}, false, fmt.Errorf("pool state rate: %w", err)
	}
	if state.PendingFunds.Insurance, err = fixedpoint.Parse[fixedpoint.Display](insurance); err != nil {
		return model.PoolState{}, false, fmt.Errorf("pool state pending insurance: %w", err)
	}
	if state.PendingFunds.Tier2Prize, err = fixedpoint.Parse[fixedpoint.Display](tier2); err != nil {
		return model.PoolState{}, false, fmt.Errorf("pool state pending tier2: %w", err)
	}
	if state.PendingFunds.Tier3Prize, err = fixedpoint.Parse[fixedpoint.Display](tier3); err != nil {
		return model.PoolState{}, false, fmt.Errorf("pool state pending tier3: %w", err)
	}
	if state.TotalDeposits, err = parseBalance(deposits, depositsRate); err != nil {
		return model.PoolState{}, false, fmt.Errorf("pool state deposits: %w", err)
	}
	return state, true, nil
}

func (s *Store) LoadEpoch(ctx context.Context, index uint64) (model.Epoch, error) {
	var record string
	row := s.pool.QueryRow(ctx, `SELECT record::text FROM epochs WHERE epoch_index = $1`, int64(index))
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Epoch{}, fmt.Errorf("epoch %d: %w", index, ledger.ErrNotFound)
		}
		return model.Epoch{}, err
	}

	var ep model.Epoch
	if err := json.Unmarshal([]byte(record), &ep); err != nil {
		return model.Epoch{}, fmt.Errorf("parse epoch %d: %w", index, err)
	}
	return ep, nil
}

func (s *Store) LoadDepositor(ctx context.Context, owner common.Address) (model.Depositor, bool, error) {
	var amount, rate string
	row := s.pool.QueryRow(ctx, `
		SELECT amount::text, starting_rate::text FROM depositors WHERE owner = $1
	`, owner.Hex())
	if err := row.Scan(&amount, &rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Depositor{}, false, nil
		}
		return model.Depositor{}, false, err
	}

	balance, err := parseBalance(amount, rate)
	if err != nil {
		return model.Depositor{}, false, fmt.Errorf("depositor %s: %w", owner.Hex(), err)
	}
	return model.Depositor{Owner: owner, Balance: balance}, true, nil
}

// Commit writes every record of the change in a single transaction. The pool
// state upsert only matches a row still at the version the change was computed
// from; when it matches nothing the transaction is rolled back with
// ledger.ErrConflict.
func (s *Store) Commit(ctx context.Context, change ledger.Change) error {
	if change.Empty() {
		return nil
	}

	batch := &pgx.Batch{}
	if change.State != nil {
		st := change.State
		depositAmount, depositRate := st.TotalDeposits.Parts()
		batch.Queue(`
			INSERT INTO pool_state (
				id, epoch_index, status, cumulative_return_rate,
				pending_insurance, pending_tier2, pending_tier3,
				total_deposits, total_deposits_rate, version, updated_at
			) VALUES (1, $1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9::bigint + 1, now())
			ON CONFLICT (id) DO UPDATE SET
				epoch_index = EXCLUDED.epoch_index,
				status = EXCLUDED.status,
				cumulative_return_rate = EXCLUDED.cumulative_return_rate,
				pending_insurance = EXCLUDED.pending_insurance,
				pending_tier2 = EXCLUDED.pending_tier2,
				pending_tier3 = EXCLUDED.pending_tier3,
				total_deposits = EXCLUDED.total_deposits,
				total_deposits_rate = EXCLUDED.total_deposits_rate,
				version = EXCLUDED.version,
				updated_at = now()
			WHERE pool_state.version = $9
		`,
			int64(st.Index),
			string(st.Status),
			st.CumulativeReturnRate.String(),
			st.PendingFunds.Insurance.String(),
			st.PendingFunds.Tier2Prize.String(),
			st.PendingFunds.Tier3Prize.String(),
			depositAmount.String(),
			depositRate.String(),
			int64(st.Version),
		)
	}
	if change.Epoch != nil {
		record, err := json.Marshal(change.Epoch)
		if err != nil {
			return fmt.Errorf("marshal epoch %d: %w", change.Epoch.Index, err)
		}
		batch.Queue(`
			INSERT INTO epochs (epoch_index, status, record, updated_at)
			VALUES ($1, $2, $3::jsonb, now())
			ON CONFLICT (epoch_index) DO UPDATE SET
				status = EXCLUDED.status,
				record = EXCLUDED.record,
				updated_at = now()
		`, int64(change.Epoch.Index), string(change.Epoch.Status), string(record))
	}
	for _, dep := range change.Depositors {
		amount, rate := dep.Balance.Parts()
		batch.Queue(`
			INSERT INTO depositors (owner, amount, starting_rate, updated_at)
			VALUES ($1, $2::text::numeric, $3::text::numeric, now())
			ON CONFLICT (owner) DO UPDATE SET
				amount = EXCLUDED.amount,
				starting_rate = EXCLUDED.starting_rate,
				updated_at = now()
		`, dep.Owner.Hex(), amount.String(), rate.String())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("commit statement %d: %w", i, err)
		}
		if i == 0 && change.State != nil && tag.RowsAffected() == 0 {
			br.Close()
			return fmt.Errorf("%w: pool state moved past version %d", ledger.ErrConflict, change.State.Version)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func parseRate(text string) (stake.Rate, error) {
	v, err := fixedpoint.Parse[fixedpoint.Internal](text)
	if err != nil {
		return stake.Rate{}, err
	}
	return stake.RestoreRate(v)
}

func parseBalance(amountText, rateText string) (stake.FloatingBalance, error) {
	amount, err := fixedpoint.Parse[fixedpoint.Display](amountText)
	if err != nil {
		return stake.FloatingBalance{}, err
	}
	rate, err := parseRate(rateText)
	if err != nil {
		return stake.FloatingBalance{}, err
	}
	return stake.RestoreFloatingBalance(amount, rate), nil
}
