package model

import "prizepool/internal/fixedpoint"

// YieldSplitCfg configures how an epoch's yield is divided. It is fixed when
// the epoch is created.
type YieldSplitCfg struct {
	JackpotTarget fixedpoint.Amount `json:"jackpot_target"`
	Insurance     InsuranceCfg      `json:"insurance"`
	TreasuryRatio fixedpoint.Ratio  `json:"treasury_ratio"`
	Tier2Share    uint8             `json:"tier2_share"`
	Tier3Share    uint8             `json:"tier3_share"`
}

// InsuranceCfg prices the jackpot insurance reserve.
type InsuranceCfg struct {
	Premium     fixedpoint.Ratio `json:"premium"`
	Probability fixedpoint.Ratio `json:"probability"`
}

// PendingFunds are targeted but unfunded or unawarded amounts carried into the
// next epoch.
type PendingFunds struct {
	Insurance  fixedpoint.Amount `json:"insurance"`
	Tier2Prize fixedpoint.Amount `json:"tier2_prize"`
	Tier3Prize fixedpoint.Amount `json:"tier3_prize"`
}

// Returns is the realized split of one epoch's investment return.
type Returns struct {
	Total       fixedpoint.Amount `json:"total"`
	DepositBack fixedpoint.Amount `json:"deposit_back"`
	Insurance   fixedpoint.Amount `json:"insurance"`
	Treasury    fixedpoint.Amount `json:"treasury"`
	Tier2Prize  fixedpoint.Amount `json:"tier2_prize"`
	Tier3Prize  fixedpoint.Amount `json:"tier3_prize"`
}
