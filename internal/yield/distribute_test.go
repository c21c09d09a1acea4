package yield

import (
	"errors"
	"testing"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
	"prizepool/internal/stake"
)

func scenarioCfg() model.YieldSplitCfg {
	return model.YieldSplitCfg{
		JackpotTarget: fixedpoint.MustAmount("20"),
		Insurance: model.InsuranceCfg{
			Premium:     fixedpoint.MustRatio("1.0"),
			Probability: fixedpoint.MustRatio("0.5"),
		},
		TreasuryRatio: fixedpoint.MustRatio("0.5"),
		Tier2Share:    3,
		Tier3Share:    1,
	}
}

func scenarioSplit(t *testing.T) SplitConfig {
	t.Helper()
	split, err := SplitConfigFor(scenarioCfg(), 5)
	if err != nil {
		t.Fatalf("split config: %v", err)
	}
	return split
}

func TestInsuranceTarget(t *testing.T) {
	got, err := InsuranceTarget(scenarioCfg(), 5)
	if err != nil {
		t.Fatalf("insurance target: %v", err)
	}
	if got.String() != "50.000000" {
		t.Fatalf("insurance target: %s", got)
	}

	none, err := InsuranceTarget(scenarioCfg(), 0)
	if err != nil || !none.IsZero() {
		t.Fatalf("no tickets: %s (%v)", none, err)
	}

	// Tiny probabilities keep their 18 digits until the final truncation.
	cfg := scenarioCfg()
	cfg.Insurance.Probability = fixedpoint.MustRatio("0.000000001")
	cfg.JackpotTarget = fixedpoint.MustAmount("1000000")
	got, err = InsuranceTarget(cfg, 1_000)
	if err != nil || got.String() != "1.000000" {
		t.Fatalf("small probability: %s (%v)", got, err)
	}

	// premium*probability is below 18 digits on its own; the ticket count
	// must still lift the reserve above zero.
	cfg = scenarioCfg()
	cfg.Insurance.Premium = fixedpoint.MustRatio("0.000000000000000001")
	cfg.Insurance.Probability = fixedpoint.MustRatio("0.5")
	cfg.JackpotTarget = fixedpoint.MustAmount("1000000")
	got, err = InsuranceTarget(cfg, 1_000_000_000_000)
	if err != nil || got.String() != "0.500000" {
		t.Fatalf("tiny premium: %s (%v)", got, err)
	}
	perTicket, err := InsurancePerTicket(cfg)
	if err != nil || perTicket.String() != "0.000000000000500000" {
		t.Fatalf("per ticket: %s (%v)", perTicket, err)
	}

	cfg.JackpotTarget = fixedpoint.MustAmount("1")
	perTicket, err = InsurancePerTicket(cfg)
	if err != nil || !perTicket.IsZero() {
		t.Fatalf("per ticket should truncate to zero: %s (%v)", perTicket, err)
	}
}

func TestDistributeScenarios(t *testing.T) {
	tests := []struct {
		name         string
		invested     string
		returned     string
		carryover    string
		wantRate     string
		wantDraw     bool
		wantBack     string
		wantIns      string
		wantTreasury string
		wantTier2    string
		wantTier3    string
		wantPending  string
	}{
		{"double", "100", "200", "0", "1", true, "100", "50", "25", "18.75", "6.25", "0"},
		{"covers insurance only", "100", "150", "0", "1", true, "100", "50", "0", "0", "0", "0"},
		{"partial insurance", "100", "140", "0", "1", false, "100", "40", "0", "0", "0", "40"},
		{"carryover completes insurance", "100", "130", "40", "1", true, "100", "10", "10", "7.5", "2.5", "0"},
		{"loss", "100", "90", "0", "0.9", false, "90", "0", "0", "0", "0", "0"},
		{"loss with large carryover", "100", "90", "60", "0.9", true, "90", "0", "0", "0", "0", "10"},
		{"breakeven", "100", "100", "0", "1", false, "100", "0", "0", "0", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Distribute(Input{
				ReturnAmount:  fixedpoint.MustAmount(tt.returned),
				TotalInvested: fixedpoint.MustAmount(tt.invested),
				Rate:          stake.Unity(),
				Pending:       model.PendingFunds{Insurance: fixedpoint.MustAmount(tt.carryover)},
				Split:         scenarioSplit(t),
			})
			if err != nil {
				t.Fatalf("distribute: %v", err)
			}

			if !out.Rate.Value().Equal(fixedpoint.MustRatio(tt.wantRate)) {
				t.Fatalf("rate: %s want %s", out.Rate, tt.wantRate)
			}
			if out.DrawEnabled != tt.wantDraw {
				t.Fatalf("draw enabled: %v want %v", out.DrawEnabled, tt.wantDraw)
			}
			checkAmount(t, "total", out.Returns.Total, tt.returned)
			checkAmount(t, "deposit back", out.Returns.DepositBack, tt.wantBack)
			checkAmount(t, "insurance", out.Returns.Insurance, tt.wantIns)
			checkAmount(t, "treasury", out.Returns.Treasury, tt.wantTreasury)
			checkAmount(t, "tier2", out.Returns.Tier2Prize, tt.wantTier2)
			checkAmount(t, "tier3", out.Returns.Tier3Prize, tt.wantTier3)
			checkAmount(t, "pending insurance", out.Pending.Insurance, tt.wantPending)
			checkAmount(t, "pending tier2", out.Pending.Tier2Prize, tt.wantTier2)
			checkAmount(t, "pending tier3", out.Pending.Tier3Prize, tt.wantTier3)
		})
	}
}

func TestDistributeZeroInvestment(t *testing.T) {
	pending := model.PendingFunds{
		Insurance:  fixedpoint.MustAmount("70"),
		Tier2Prize: fixedpoint.MustAmount("3"),
	}
	out, err := Distribute(Input{
		Rate:    stake.Unity(),
		Pending: pending,
		Split:   scenarioSplit(t),
	})
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !out.Returns.DepositBack.IsZero() || !out.Returns.Total.IsZero() {
		t.Fatalf("expected empty returns: %+v", out.Returns)
	}
	if !out.DrawEnabled {
		t.Fatalf("carryover above target should enable the draw")
	}
	checkAmount(t, "pending insurance", out.Pending.Insurance, "20")
	checkAmount(t, "pending tier2", out.Pending.Tier2Prize, "3")

	_, err = Distribute(Input{
		ReturnAmount: fixedpoint.MustAmount("1"),
		Rate:         stake.Unity(),
		Split:        scenarioSplit(t),
	})
	if !errors.Is(err, ErrReturnWithoutInvestment) {
		t.Fatalf("expected ErrReturnWithoutInvestment, got %v", err)
	}
}

func TestDistributeZeroReturn(t *testing.T) {
	_, err := Distribute(Input{
		TotalInvested: fixedpoint.MustAmount("100"),
		Rate:          stake.Unity(),
		Split:         scenarioSplit(t),
	})
	if !errors.Is(err, ErrZeroReturn) {
		t.Fatalf("expected ErrZeroReturn, got %v", err)
	}
}

func TestDistributeDoesNotTouchInput(t *testing.T) {
	in := Input{
		ReturnAmount:  fixedpoint.MustAmount("130"),
		TotalInvested: fixedpoint.MustAmount("100"),
		Rate:          stake.Unity(),
		Pending:       model.PendingFunds{Insurance: fixedpoint.MustAmount("40")},
		Split:         scenarioSplit(t),
	}
	if _, err := Distribute(in); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	checkAmount(t, "input pending", in.Pending.Insurance, "40")
}

func TestTierRemainderAbsorbsRounding(t *testing.T) {
	split := scenarioSplit(t)
	split.InsuranceTarget = fixedpoint.Amount{}
	split.TreasuryRatio = fixedpoint.Ratio{}
	split.Tier2Share = 1
	split.Tier3Share = 2

	out, err := Distribute(Input{
		ReturnAmount:  fixedpoint.MustAmount("100.000001"),
		TotalInvested: fixedpoint.MustAmount("100"),
		Rate:          stake.Unity(),
		Split:         split,
	})
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	checkAmount(t, "tier2", out.Returns.Tier2Prize, "0")
	checkAmount(t, "tier3", out.Returns.Tier3Prize, "0.000001")
}

func TestYieldConservation(t *testing.T) {
	returns := []string{"100.000001", "117.333333", "150", "151.999999", "250.5", "1000000.777777"}
	ratios := []string{"0", "0.1", "0.333333333333333333", "1"}
	for _, returned := range returns {
		for _, ratio := range ratios {
			split := scenarioSplit(t)
			split.TreasuryRatio = fixedpoint.MustRatio(ratio)
			split.Tier2Share = 7
			split.Tier3Share = 3

			out, err := Distribute(Input{
				ReturnAmount:  fixedpoint.MustAmount(returned),
				TotalInvested: fixedpoint.MustAmount("100"),
				Rate:          stake.Unity(),
				Split:         split,
			})
			if err != nil {
				t.Fatalf("distribute %s: %v", returned, err)
			}

			yieldAmount, _ := fixedpoint.MustAmount(returned).Sub(fixedpoint.MustAmount("100"))
			sum := out.Returns.Insurance
			for _, part := range []fixedpoint.Amount{out.Returns.Treasury, out.Returns.Tier2Prize, out.Returns.Tier3Prize} {
				sum, _ = sum.Add(part)
			}
			if sum.Cmp(yieldAmount) > 0 {
				t.Fatalf("split %s exceeds yield %s", sum, yieldAmount)
			}
			if out.DrawEnabled && !sum.Equal(yieldAmount) {
				t.Fatalf("covered split %s should equal yield %s without carryover", sum, yieldAmount)
			}
		}
	}
}

func TestRateMonotonicAcrossEpochs(t *testing.T) {
	rate := stake.Unity()
	pending := model.PendingFunds{}
	flows := [][2]string{{"100", "200"}, {"100", "95"}, {"50", "50"}, {"80", "120"}, {"100", "1"}, {"10", "9.999999"}}

	for _, flow := range flows {
		invested := fixedpoint.MustAmount(flow[0])
		returned := fixedpoint.MustAmount(flow[1])
		out, err := Distribute(Input{
			ReturnAmount:  returned,
			TotalInvested: invested,
			Rate:          rate,
			Pending:       pending,
			Split:         scenarioSplit(t),
		})
		if err != nil {
			t.Fatalf("distribute %v: %v", flow, err)
		}
		if out.Rate.Cmp(rate) > 0 {
			t.Fatalf("rate increased: %s > %s", out.Rate, rate)
		}
		if !returned.LessThan(invested) && !out.Rate.Equal(rate) {
			t.Fatalf("rate changed without a loss: %v", flow)
		}
		if returned.LessThan(invested) && out.Rate.Equal(rate) {
			t.Fatalf("rate unchanged after loss: %v", flow)
		}
		rate, pending = out.Rate, out.Pending
	}
}

func checkAmount(t *testing.T, name string, got fixedpoint.Amount, want string) {
	t.Helper()
	if !got.Equal(fixedpoint.MustAmount(want)) {
		t.Fatalf("%s: got %s want %s", name, got, want)
	}
}
