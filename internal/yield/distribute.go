// Package yield splits an epoch's investment return into principal, insurance,
// treasury and prize tiers.
package yield

import (
	"errors"
	"fmt"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
	"prizepool/internal/stake"
)

var (
	// ErrNumerical wraps any checked arithmetic failure during distribution.
	ErrNumerical = errors.New("numerical overflow")
	// ErrReturnWithoutInvestment is reported for a non-zero return on a zero investment.
	ErrReturnWithoutInvestment = errors.New("non-zero return on zero investment")
	// ErrZeroReturn is reported when a non-zero investment returns nothing.
	ErrZeroReturn = errors.New("zero return on non-zero investment")
)

// SplitConfig is the part of an epoch's YieldSplitCfg the split needs, with
// the insurance target already priced for the epoch's tickets.
type SplitConfig struct {
	InsuranceTarget fixedpoint.Amount
	TreasuryRatio   fixedpoint.Ratio
	Tier2Share      uint8
	Tier3Share      uint8
}

// Input is everything Distribute reads.
type Input struct {
	ReturnAmount  fixedpoint.Amount
	TotalInvested fixedpoint.Amount
	Rate          stake.Rate
	Pending       model.PendingFunds
	Split         SplitConfig
}

// Outcome is everything Distribute produces. Nothing in Input is modified.
type Outcome struct {
	Returns     model.Returns
	Rate        stake.Rate
	Pending     model.PendingFunds
	DrawEnabled bool
}

// InsuranceTarget prices the epoch's insurance reserve:
// premium * probability * jackpot_target * num_tickets.
func InsuranceTarget(cfg model.YieldSplitCfg, numTickets uint64) (fixedpoint.Amount, error) {
	amount, err := fixedpoint.MulRatios(cfg.JackpotTarget, numTickets, cfg.Insurance.Premium, cfg.Insurance.Probability)
	if err != nil {
		return fixedpoint.Amount{}, numerical("insurance target", err)
	}
	return amount, nil
}

// InsurancePerTicket prices one ticket's share of the reserve at 18 digits.
func InsurancePerTicket(cfg model.YieldSplitCfg) (fixedpoint.Ratio, error) {
	jackpot, err := fixedpoint.Convert[fixedpoint.Internal](cfg.JackpotTarget)
	if err != nil {
		return fixedpoint.Ratio{}, numerical("insurance jackpot", err)
	}
	perTicket, err := fixedpoint.MulRatios(jackpot, 1, cfg.Insurance.Premium, cfg.Insurance.Probability)
	if err != nil {
		return fixedpoint.Ratio{}, numerical("insurance per ticket", err)
	}
	return perTicket, nil
}

// SplitConfigFor reduces an epoch configuration for a ticket count.
func SplitConfigFor(cfg model.YieldSplitCfg, numTickets uint64) (SplitConfig, error) {
	target, err := InsuranceTarget(cfg, numTickets)
	if err != nil {
		return SplitConfig{}, err
	}
	return SplitConfig{
		InsuranceTarget: target,
		TreasuryRatio:   cfg.TreasuryRatio,
		Tier2Share:      cfg.Tier2Share,
		Tier3Share:      cfg.Tier3Share,
	}, nil
}

// Distribute computes the returns of an epoch. Only a loss moves the rate;
// gains are split as yield.
func Distribute(in Input) (Outcome, error) {
	var (
		depositBack fixedpoint.Amount
		yieldAmount fixedpoint.Amount
		rate        = in.Rate
	)

	switch {
	case in.TotalInvested.IsZero():
		if !in.ReturnAmount.IsZero() {
			return Outcome{}, ErrReturnWithoutInvestment
		}
	case in.ReturnAmount.IsZero():
		return Outcome{}, ErrZeroReturn
	case in.ReturnAmount.LessThan(in.TotalInvested):
		depositBack = in.ReturnAmount
		next, err := in.Rate.ApplyReturn(in.ReturnAmount, in.TotalInvested)
		if err != nil {
			return Outcome{}, numerical("cumulative return rate", err)
		}
		rate = next
	default:
		depositBack = in.TotalInvested
		gain, err := in.ReturnAmount.Sub(in.TotalInvested)
		if err != nil {
			return Outcome{}, numerical("yield", err)
		}
		yieldAmount = gain
	}

	split, err := splitYield(yieldAmount, in.Pending, in.Split)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Returns: model.Returns{
			Total:       in.ReturnAmount,
			DepositBack: depositBack,
			Insurance:   split.insurance,
			Treasury:    split.treasury,
			Tier2Prize:  split.tier2,
			Tier3Prize:  split.tier3,
		},
		Rate:        rate,
		Pending:     split.pending,
		DrawEnabled: split.drawEnabled,
	}, nil
}

type splitResult struct {
	insurance   fixedpoint.Amount
	treasury    fixedpoint.Amount
	tier2       fixedpoint.Amount
	tier3       fixedpoint.Amount
	pending     model.PendingFunds
	drawEnabled bool
}

func splitYield(yieldAmount fixedpoint.Amount, pending model.PendingFunds, cfg SplitConfig) (splitResult, error) {
	needed := cfg.InsuranceTarget.SaturatingSub(pending.Insurance)

	if yieldAmount.LessThan(needed) {
		carried, err := pending.Insurance.Add(yieldAmount)
		if err != nil {
			return splitResult{}, numerical("pending insurance", err)
		}
		next := pending
		next.Insurance = carried
		return splitResult{
			insurance: yieldAmount,
			pending:   next,
		}, nil
	}

	remaining, err := yieldAmount.Sub(needed)
	if err != nil {
		return splitResult{}, numerical("remaining yield", err)
	}

	treasury, err := scale(remaining, cfg.TreasuryRatio)
	if err != nil {
		return splitResult{}, numerical("treasury", err)
	}
	remaining, err = remaining.Sub(treasury)
	if err != nil {
		return splitResult{}, numerical("treasury", err)
	}

	shares := uint64(cfg.Tier2Share) + uint64(cfg.Tier3Share)
	tier2, err := remaining.MulInt(uint64(cfg.Tier2Share))
	if err != nil {
		return splitResult{}, numerical("tier2 prize", err)
	}
	tier2, err = tier2.DivInt(shares)
	if err != nil {
		return splitResult{}, numerical("tier2 prize", err)
	}
	tier3, err := remaining.Sub(tier2)
	if err != nil {
		return splitResult{}, numerical("tier3 prize", err)
	}

	next := model.PendingFunds{
		Insurance: pending.Insurance.SaturatingSub(cfg.InsuranceTarget),
	}
	if next.Tier2Prize, err = pending.Tier2Prize.Add(tier2); err != nil {
		return splitResult{}, numerical("pending tier2 prize", err)
	}
	if next.Tier3Prize, err = pending.Tier3Prize.Add(tier3); err != nil {
		return splitResult{}, numerical("pending tier3 prize", err)
	}

	return splitResult{
		insurance:   needed,
		treasury:    treasury,
		tier2:       tier2,
		tier3:       tier3,
		pending:     next,
		drawEnabled: true,
	}, nil
}

// scale multiplies an amount by an 18 digit ratio, truncating to 6 digits.
func scale(amount fixedpoint.Amount, ratio fixedpoint.Ratio) (fixedpoint.Amount, error) {
	return fixedpoint.MulRatios(amount, 1, ratio)
}

func numerical(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNumerical, step, err)
}
