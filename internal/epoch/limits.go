package epoch

import (
	"fmt"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
	"prizepool/internal/yield"
)

// Limits are the protocol ceilings applied when an epoch is created. They keep
// the insurance target (premium * probability * jackpot * tickets) in range for
// any uint64 ticket count. The product is formed unscaled and truncated once:
//
//	10^15 (jackpot) * 2^64 (tickets) * 10^20 (premium) * 10^18 (probability) < 2^256
//	per ticket < 10^11  =>  10^11 * 10^6 (scale) * 2^64 (tickets) < 2^192
type Limits struct {
	MaxJackpotTarget        fixedpoint.Amount
	MaxInsurancePremium     fixedpoint.Ratio
	MaxInsuranceProbability fixedpoint.Ratio
	MaxTreasuryRatio        fixedpoint.Ratio
}

// DefaultLimits returns the ceilings used by the pool.
func DefaultLimits() Limits {
	return Limits{
		MaxJackpotTarget:        fixedpoint.FromWhole[fixedpoint.Display](1_000_000_000),
		MaxInsurancePremium:     fixedpoint.FromWhole[fixedpoint.Internal](100),
		MaxInsuranceProbability: fixedpoint.FromWhole[fixedpoint.Internal](1),
		MaxTreasuryRatio:        fixedpoint.FromWhole[fixedpoint.Internal](1),
	}
}

// Validate checks a yield split configuration. Jackpot, premium and
// probability must be non-zero and strictly below their ceilings; the treasury
// ratio may equal its ceiling. A configuration whose per ticket insurance
// truncates to zero at 18 digits is rejected, since it would never fund a
// reserve.
func (l Limits) Validate(cfg model.YieldSplitCfg) error {
	switch {
	case cfg.JackpotTarget.IsZero():
		return fmt.Errorf("%w: jackpot target is zero", ErrInvalidConfig)
	case !cfg.JackpotTarget.LessThan(l.MaxJackpotTarget):
		return fmt.Errorf("%w: jackpot target %s too high (max %s)", ErrInvalidConfig, cfg.JackpotTarget, l.MaxJackpotTarget)
	case cfg.Insurance.Premium.IsZero():
		return fmt.Errorf("%w: insurance premium is zero", ErrInvalidConfig)
	case !cfg.Insurance.Premium.LessThan(l.MaxInsurancePremium):
		return fmt.Errorf("%w: insurance premium %s too high (max %s)", ErrInvalidConfig, cfg.Insurance.Premium, l.MaxInsurancePremium)
	case cfg.Insurance.Probability.IsZero():
		return fmt.Errorf("%w: insurance probability is zero", ErrInvalidConfig)
	case !cfg.Insurance.Probability.LessThan(l.MaxInsuranceProbability):
		return fmt.Errorf("%w: insurance probability %s too high (max %s)", ErrInvalidConfig, cfg.Insurance.Probability, l.MaxInsuranceProbability)
	case l.MaxTreasuryRatio.LessThan(cfg.TreasuryRatio):
		return fmt.Errorf("%w: treasury ratio %s above %s", ErrInvalidConfig, cfg.TreasuryRatio, l.MaxTreasuryRatio)
	case cfg.Tier2Share == 0:
		return fmt.Errorf("%w: tier2 share is zero", ErrInvalidConfig)
	case cfg.Tier3Share == 0:
		return fmt.Errorf("%w: tier3 share is zero", ErrInvalidConfig)
	}

	perTicket, err := yield.InsurancePerTicket(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if perTicket.IsZero() {
		return fmt.Errorf("%w: insurance per ticket truncates to zero (premium %s, probability %s, jackpot %s)",
			ErrInvalidConfig, cfg.Insurance.Premium, cfg.Insurance.Probability, cfg.JackpotTarget)
	}
	return nil
}
