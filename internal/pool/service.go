// Package pool runs the epoch lifecycle and depositor stakes against a ledger
// store. Each operation loads the records it needs, computes the replacement
// records, then commits them as one change. A commit that lost a race to
// another writer is recomputed from a fresh read.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"prizepool/internal/epoch"
	"prizepool/internal/fixedpoint"
	"prizepool/internal/ledger"
	"prizepool/internal/model"
	"prizepool/internal/report"
	"prizepool/internal/stake"
)

var (
	// ErrInsufficientBalance is returned when a stake withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDepositsLocked is returned for stake changes while the funds are at the yield source.
	ErrDepositsLocked = errors.New("deposits locked while yielding")
	// ErrNoPool is returned before the first epoch has been created.
	ErrNoPool = errors.New("no epoch created")
	// ErrNoSource is returned by WithdrawFromSource when no return source is configured.
	ErrNoSource = errors.New("return source not configured")
)

// maxAttempts bounds how often an operation is recomputed after
// ledger.ErrConflict.
const maxAttempts = 5

// ReturnSource reports how much the investment of the current epoch returned.
type ReturnSource interface {
	ReturnAmount(ctx context.Context) (fixedpoint.Amount, error)
}

// Config controls the service.
type Config struct {
	Limits epoch.Limits
	// Now defaults to time.Now.
	Now func() time.Time
	// Reports receives a report each time an epoch ends. Optional. The report
	// is written after the commit; a failed write is logged, not returned.
	Reports report.Sink
}

// Service applies pool operations to a ledger store.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	store  ledger.Store
	source ReturnSource
	logger *zap.Logger
}

// Status is the pool pointer and the epoch it points to.
type Status struct {
	State model.PoolState
	Epoch model.Epoch
	// Deposits is the aggregate principal valued at the current rate.
	Deposits fixedpoint.Amount
}

func NewService(cfg Config, store ledger.Store, source ReturnSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		source: source,
		logger: logger,
	}
}

// CreateEpoch opens the next epoch, expected to end at expectedEndAt.
func (s *Service) CreateEpoch(ctx context.Context, cfg model.YieldSplitCfg, expectedEndAt time.Time) (model.Epoch, error) {
	tr, err := serialize(s, "create epoch", func() (epoch.Transition, error) {
		state, ok, err := s.store.LoadState(ctx)
		if err != nil {
			return epoch.Transition{}, fmt.Errorf("load pool state: %w", err)
		}
		var prev *model.PoolState
		if ok {
			prev = &state
		}

		tr, err := epoch.Create(prev, cfg, s.cfg.Now(), expectedEndAt, s.cfg.Limits)
		if err != nil {
			return epoch.Transition{}, err
		}
		return tr, s.commit(ctx, tr)
	})
	if err != nil {
		return model.Epoch{}, err
	}

	s.logger.Info("epoch created",
		zap.Uint64("epoch", tr.Epoch.Index),
		zap.String("status", string(tr.Epoch.Status)),
		zap.Time("expected_end_at", tr.Epoch.ExpectedEndAt),
		zap.String("jackpot_target", cfg.JackpotTarget.String()),
	)
	return tr.Epoch, nil
}

// Invest hands the epoch's funds to the yield source. A nil amount invests the
// pool's aggregate deposits at the current rate.
func (s *Service) Invest(ctx context.Context, amount *fixedpoint.Amount, snapshot model.TicketSnapshot) (model.Epoch, error) {
	tr, err := serialize(s, "invest", func() (epoch.Transition, error) {
		state, ep, err := s.current(ctx)
		if err != nil {
			return epoch.Transition{}, err
		}

		var invested fixedpoint.Amount
		if amount != nil {
			invested = *amount
		} else {
			invested, err = state.TotalDeposits.Amount(state.CumulativeReturnRate)
			if err != nil {
				return epoch.Transition{}, fmt.Errorf("value deposits: %w", err)
			}
		}

		tr, err := epoch.Invest(state, ep, invested, snapshot)
		if err != nil {
			return epoch.Transition{}, err
		}
		return tr, s.commit(ctx, tr)
	})
	if err != nil {
		return model.Epoch{}, err
	}

	s.logger.Info("epoch invested",
		zap.Uint64("epoch", tr.Epoch.Index),
		zap.String("total_invested", tr.Epoch.TotalInvested.String()),
		zap.Uint64("tickets", snapshot.NumTickets),
		zap.String("snapshot", snapshot.Digest.Hex()),
	)
	return tr.Epoch, nil
}

// Withdraw records the investment's return and distributes it.
func (s *Service) Withdraw(ctx context.Context, returnAmount fixedpoint.Amount) (model.Epoch, error) {
	tr, err := serialize(s, "withdraw", func() (epoch.Transition, error) {
		state, ep, err := s.current(ctx)
		if err != nil {
			return epoch.Transition{}, err
		}

		tr, err := epoch.Withdraw(state, ep, returnAmount, s.cfg.Now())
		if err != nil {
			return epoch.Transition{}, err
		}
		return tr, s.commit(ctx, tr)
	})
	if err != nil {
		return model.Epoch{}, err
	}

	returns := tr.Epoch.Returns
	s.logger.Info("epoch returns",
		zap.Uint64("epoch", tr.Epoch.Index),
		zap.String("status", string(tr.Epoch.Status)),
		zap.String("total", returns.Total.String()),
		zap.String("deposit_back", returns.DepositBack.String()),
		zap.String("insurance", returns.Insurance.String()),
		zap.String("treasury", returns.Treasury.String()),
		zap.String("tier2", returns.Tier2Prize.String()),
		zap.String("tier3", returns.Tier3Prize.String()),
		zap.String("rate", tr.State.CumulativeReturnRate.String()),
		zap.Bool("draw_enabled", *tr.Epoch.DrawEnabled),
	)
	s.ended(tr)
	return tr.Epoch, nil
}

// WithdrawFromSource is Withdraw with the amount read from the return source.
func (s *Service) WithdrawFromSource(ctx context.Context) (model.Epoch, error) {
	if s.source == nil {
		return model.Epoch{}, ErrNoSource
	}
	amount, err := s.source.ReturnAmount(ctx)
	if err != nil {
		return model.Epoch{}, err
	}
	return s.Withdraw(ctx, amount)
}

// PublishWinners closes a Finalising epoch with the draw's winner counts.
func (s *Service) PublishWinners(ctx context.Context, winners model.WinnerCounts) (model.Epoch, error) {
	tr, err := serialize(s, "publish winners", func() (epoch.Transition, error) {
		state, ep, err := s.current(ctx)
		if err != nil {
			return epoch.Transition{}, err
		}

		tr, err := epoch.PublishWinners(state, ep, winners)
		if err != nil {
			return epoch.Transition{}, err
		}
		return tr, s.commit(ctx, tr)
	})
	if err != nil {
		return model.Epoch{}, err
	}

	s.logger.Info("winners published",
		zap.Uint64("epoch", tr.Epoch.Index),
		zap.Uint32("tier2_winners", winners.Tier2),
		zap.Uint32("tier3_winners", winners.Tier3),
		zap.String("tier2_award", tr.Epoch.Awards.Tier2.String()),
		zap.String("tier3_award", tr.Epoch.Awards.Tier3.String()),
	)
	s.ended(tr)
	return tr.Epoch, nil
}

// Deposit adds amount to owner's stake.
func (s *Service) Deposit(ctx context.Context, owner common.Address, amount fixedpoint.Amount) (model.Depositor, error) {
	if amount.IsZero() {
		return model.Depositor{}, fmt.Errorf("deposit amount is zero")
	}
	st, err := serialize(s, "deposit", func() (stakeChange, error) {
		state, dep, err := s.stake(ctx, owner)
		if err != nil {
			return stakeChange{}, err
		}
		rate := state.CumulativeReturnRate

		if dep.Balance, err = dep.Balance.Deposit(amount, rate); err != nil {
			return stakeChange{}, fmt.Errorf("deposit: %w", err)
		}
		if state.TotalDeposits, err = state.TotalDeposits.Deposit(amount, rate); err != nil {
			return stakeChange{}, fmt.Errorf("deposit total: %w", err)
		}

		if err := s.store.Commit(ctx, ledger.Change{State: &state, Depositors: []model.Depositor{dep}}); err != nil {
			return stakeChange{}, fmt.Errorf("commit deposit: %w", err)
		}
		return stakeChange{state: state, dep: dep}, nil
	})
	if err != nil {
		return model.Depositor{}, err
	}

	s.logger.Info("deposit",
		zap.String("owner", owner.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("epoch", st.state.Index),
	)
	return st.dep, nil
}

// WithdrawStake removes amount from owner's stake.
func (s *Service) WithdrawStake(ctx context.Context, owner common.Address, amount fixedpoint.Amount) (model.Depositor, error) {
	st, err := serialize(s, "withdraw stake", func() (stakeChange, error) {
		state, dep, err := s.stake(ctx, owner)
		if err != nil {
			return stakeChange{}, err
		}
		rate := state.CumulativeReturnRate

		dep.Balance, err = dep.Balance.Withdraw(amount, rate)
		if errors.Is(err, fixedpoint.ErrUnderflow) {
			return stakeChange{}, fmt.Errorf("%w: %s: %w", ErrInsufficientBalance, owner.Hex(), err)
		}
		if err != nil {
			return stakeChange{}, fmt.Errorf("withdraw stake: %w", err)
		}

		// Depositor balances and the aggregate truncate independently, so the
		// aggregate can trail the sum of balances by a few units.
		total, err := state.TotalDeposits.Withdraw(amount, rate)
		if errors.Is(err, fixedpoint.ErrUnderflow) {
			total = stake.RestoreFloatingBalance(fixedpoint.Amount{}, rate)
		} else if err != nil {
			return stakeChange{}, fmt.Errorf("withdraw total: %w", err)
		}
		state.TotalDeposits = total

		if err := s.store.Commit(ctx, ledger.Change{State: &state, Depositors: []model.Depositor{dep}}); err != nil {
			return stakeChange{}, fmt.Errorf("commit withdraw stake: %w", err)
		}
		return stakeChange{state: state, dep: dep}, nil
	})
	if err != nil {
		return model.Depositor{}, err
	}

	s.logger.Info("withdraw stake",
		zap.String("owner", owner.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("epoch", st.state.Index),
	)
	return st.dep, nil
}

// Balance values owner's stake at the current rate. Unknown owners hold zero.
func (s *Service) Balance(ctx context.Context, owner common.Address) (fixedpoint.Amount, error) {
	dep, ok, err := s.store.LoadDepositor(ctx, owner)
	if err != nil {
		return fixedpoint.Amount{}, fmt.Errorf("load depositor: %w", err)
	}
	if !ok {
		return fixedpoint.Amount{}, nil
	}
	state, ok, err := s.store.LoadState(ctx)
	if err != nil {
		return fixedpoint.Amount{}, fmt.Errorf("load pool state: %w", err)
	}
	rate := stake.Unity()
	if ok {
		rate = state.CumulativeReturnRate
	}
	return dep.Balance.Amount(rate)
}

// Status returns the pool pointer and its current epoch.
func (s *Service) Status(ctx context.Context) (Status, error) {
	state, ep, err := s.current(ctx)
	if err != nil {
		return Status{}, err
	}
	deposits, err := state.TotalDeposits.Amount(state.CumulativeReturnRate)
	if err != nil {
		return Status{}, fmt.Errorf("value deposits: %w", err)
	}
	return Status{State: state, Epoch: ep, Deposits: deposits}, nil
}

func (s *Service) current(ctx context.Context) (model.PoolState, model.Epoch, error) {
	state, ok, err := s.store.LoadState(ctx)
	if err != nil {
		return model.PoolState{}, model.Epoch{}, fmt.Errorf("load pool state: %w", err)
	}
	if !ok {
		return model.PoolState{}, model.Epoch{}, ErrNoPool
	}
	ep, err := s.store.LoadEpoch(ctx, state.Index)
	if err != nil {
		return model.PoolState{}, model.Epoch{}, fmt.Errorf("load epoch %d: %w", state.Index, err)
	}
	return state, ep, nil
}

func (s *Service) stake(ctx context.Context, owner common.Address) (model.PoolState, model.Depositor, error) {
	state, ok, err := s.store.LoadState(ctx)
	if err != nil {
		return model.PoolState{}, model.Depositor{}, fmt.Errorf("load pool state: %w", err)
	}
	if !ok {
		return model.PoolState{}, model.Depositor{}, ErrNoPool
	}
	if state.Status == model.StatusYielding {
		return model.PoolState{}, model.Depositor{}, fmt.Errorf("%w: epoch %d", ErrDepositsLocked, state.Index)
	}

	dep, ok, err := s.store.LoadDepositor(ctx, owner)
	if err != nil {
		return model.PoolState{}, model.Depositor{}, fmt.Errorf("load depositor: %w", err)
	}
	if !ok {
		dep = model.Depositor{Owner: owner, Balance: stake.NewFloatingBalance()}
	}
	return state, dep, nil
}

type stakeChange struct {
	state model.PoolState
	dep   model.Depositor
}

// serialize runs one load, compute and commit cycle under the service lock,
// starting over from a fresh read while the ledger reports a conflict with
// another process.
func serialize[T any](s *Service, op string, fn func() (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		out, err := fn()
		if err == nil || !errors.Is(err, ledger.ErrConflict) || attempt == maxAttempts {
			return out, err
		}
		s.logger.Warn("ledger conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

func (s *Service) commit(ctx context.Context, tr epoch.Transition) error {
	change := ledger.Change{State: &tr.State, Epoch: &tr.Epoch}
	if err := s.store.Commit(ctx, change); err != nil {
		return fmt.Errorf("commit epoch %d: %w", tr.Epoch.Index, err)
	}
	return nil
}

// ended reports a finished epoch. It runs after the commit, so a sink failure
// is logged and does not fail the operation.
func (s *Service) ended(tr epoch.Transition) {
	if tr.Epoch.Status != model.StatusEnded {
		return
	}
	s.logger.Info("epoch ended",
		zap.Uint64("epoch", tr.Epoch.Index),
		zap.String("rate", tr.State.CumulativeReturnRate.String()),
		zap.String("pending_insurance", tr.State.PendingFunds.Insurance.String()),
	)
	if s.cfg.Reports == nil {
		return
	}
	if err := s.cfg.Reports.PutEpochReports([]report.EpochReport{report.FromEpoch(tr.Epoch, tr.State)}); err != nil {
		s.logger.Error("write epoch report",
			zap.Uint64("epoch", tr.Epoch.Index),
			zap.Error(err),
		)
	}
}
