// Package epoch drives the epoch lifecycle:
//
//	Running -> Yielding -> Finalising -> Ended -> (next epoch) Running
//	                    \-> Ended (no draw)
//
// Every transition checks the pool status, then returns replacement records.
// The records passed in are never modified, so a rejected call can simply be
// retried.
package epoch

import (
	"errors"
	"fmt"
	"time"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
	"prizepool/internal/stake"
	"prizepool/internal/yield"
)

var (
	// ErrEpochStatus is returned when the pool is not in the status a transition requires.
	ErrEpochStatus = errors.New("invalid epoch status")
	// ErrInvalidConfig is returned for a rejected epoch configuration.
	ErrInvalidConfig = errors.New("invalid epoch config")
	// ErrEpochMismatch is returned when the epoch record is not the one the pool points to.
	ErrEpochMismatch = errors.New("epoch does not match pool state")
)

// Transition is the pair of records a transition produces.
type Transition struct {
	State model.PoolState
	Epoch model.Epoch
}

// Genesis returns the pool state before the first epoch.
func Genesis() model.PoolState {
	return model.PoolState{
		CumulativeReturnRate: stake.Unity(),
		TotalDeposits:        stake.NewFloatingBalance(),
	}
}

// Create opens the next epoch. state is nil when no epoch exists yet.
func Create(state *model.PoolState, cfg model.YieldSplitCfg, now, expectedEndAt time.Time, limits Limits) (Transition, error) {
	next := Genesis()
	if state != nil {
		if state.Status != model.StatusEnded {
			return Transition{}, statusError("create", state.Status, model.StatusEnded)
		}
		next = *state
	}

	if !expectedEndAt.After(now) {
		return Transition{}, fmt.Errorf("%w: expected end %s is not after %s", ErrInvalidConfig, expectedEndAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if err := limits.Validate(cfg); err != nil {
		return Transition{}, err
	}

	next.Index++
	next.Status = model.StatusRunning

	return Transition{
		State: next,
		Epoch: model.Epoch{
			Index:         next.Index,
			Status:        model.StatusRunning,
			YieldSplitCfg: cfg,
			StartAt:       now.UTC(),
			ExpectedEndAt: expectedEndAt.UTC(),
		},
	}, nil
}

// Invest moves a Running epoch to Yielding, recording the invested amount and
// the ticket snapshot handed to the yield source.
func Invest(state model.PoolState, ep model.Epoch, totalInvested fixedpoint.Amount, snapshot model.TicketSnapshot) (Transition, error) {
	if state.Status != model.StatusRunning {
		return Transition{}, statusError("invest", state.Status, model.StatusRunning)
	}
	if err := checkCurrent(state, ep); err != nil {
		return Transition{}, err
	}

	invested := totalInvested
	ticketSnapshot := snapshot

	state.Status = model.StatusYielding
	ep.Status = model.StatusYielding
	ep.TotalInvested = &invested
	ep.TicketSnapshot = &ticketSnapshot

	return Transition{State: state, Epoch: ep}, nil
}

// Withdraw receives the investment's return and distributes it. The epoch goes
// to Finalising when a draw is enabled, otherwise straight to Ended.
func Withdraw(state model.PoolState, ep model.Epoch, returnAmount fixedpoint.Amount, now time.Time) (Transition, error) {
	if state.Status != model.StatusYielding {
		return Transition{}, statusError("withdraw", state.Status, model.StatusYielding)
	}
	if err := checkCurrent(state, ep); err != nil {
		return Transition{}, err
	}
	if ep.TotalInvested == nil || ep.TicketSnapshot == nil {
		return Transition{}, fmt.Errorf("%w: epoch %d has no investment record", ErrEpochMismatch, ep.Index)
	}

	split, err := yield.SplitConfigFor(ep.YieldSplitCfg, ep.TicketSnapshot.NumTickets)
	if err != nil {
		return Transition{}, err
	}

	out, err := yield.Distribute(yield.Input{
		ReturnAmount:  returnAmount,
		TotalInvested: *ep.TotalInvested,
		Rate:          state.CumulativeReturnRate,
		Pending:       state.PendingFunds,
		Split:         split,
	})
	if err != nil {
		return Transition{}, fmt.Errorf("epoch %d returns: %w", ep.Index, err)
	}

	status := model.StatusEnded
	if out.DrawEnabled {
		status = model.StatusFinalising
	}
	returns := out.Returns
	drawEnabled := out.DrawEnabled
	endAt := now.UTC()

	state.Status = status
	state.CumulativeReturnRate = out.Rate
	state.PendingFunds = out.Pending

	ep.Status = status
	ep.Returns = &returns
	ep.DrawEnabled = &drawEnabled
	ep.EndAt = &endAt

	return Transition{State: state, Epoch: ep}, nil
}

// PublishWinners closes a Finalising epoch once the draw is known. A tier with
// at least one winner pays out its whole accumulated pool; a tier without
// winners keeps its pool pending for later epochs.
func PublishWinners(state model.PoolState, ep model.Epoch, winners model.WinnerCounts) (Transition, error) {
	if state.Status != model.StatusFinalising {
		return Transition{}, statusError("publish winners", state.Status, model.StatusFinalising)
	}
	if err := checkCurrent(state, ep); err != nil {
		return Transition{}, err
	}

	var awards model.Awards
	pending := state.PendingFunds
	if winners.Tier2 > 0 {
		awards.Tier2 = pending.Tier2Prize
		pending.Tier2Prize = fixedpoint.Amount{}
	}
	if winners.Tier3 > 0 {
		awards.Tier3 = pending.Tier3Prize
		pending.Tier3Prize = fixedpoint.Amount{}
	}
	counts := winners

	state.Status = model.StatusEnded
	state.PendingFunds = pending

	ep.Status = model.StatusEnded
	ep.Winners = &counts
	ep.Awards = &awards

	return Transition{State: state, Epoch: ep}, nil
}

func checkCurrent(state model.PoolState, ep model.Epoch) error {
	if ep.Index != state.Index || ep.Status != state.Status {
		return fmt.Errorf("%w: epoch %d (%s), pool at %d (%s)", ErrEpochMismatch, ep.Index, ep.Status, state.Index, state.Status)
	}
	return nil
}

func statusError(op string, got, want model.EpochStatus) error {
	if got == "" {
		got = "none"
	}
	return fmt.Errorf("%w: %s requires %s, pool is %s", ErrEpochStatus, op, want, got)
}
