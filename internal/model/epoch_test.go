package model

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"prizepool/internal/fixedpoint"
)

func TestEpochJSONRoundTrip(t *testing.T) {
	invested := fixedpoint.MustAmount("100")
	drawEnabled := true
	endAt := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	original := Epoch{
		Index:  3,
		Status: StatusFinalising,
		YieldSplitCfg: YieldSplitCfg{
			JackpotTarget: fixedpoint.MustAmount("20"),
			Insurance: InsuranceCfg{
				Premium:     fixedpoint.MustRatio("1"),
				Probability: fixedpoint.MustRatio("0.5"),
			},
			TreasuryRatio: fixedpoint.MustRatio("0.5"),
			Tier2Share:    3,
			Tier3Share:    1,
		},
		StartAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpectedEndAt: endAt,
		TicketSnapshot: &TicketSnapshot{
			NumTickets: 5,
			Digest:     common.HexToHash("0xabc123"),
		},
		TotalInvested: &invested,
		Returns: &Returns{
			Total:       fixedpoint.MustAmount("200"),
			DepositBack: fixedpoint.MustAmount("100"),
			Insurance:   fixedpoint.MustAmount("50"),
			Treasury:    fixedpoint.MustAmount("25"),
			Tier2Prize:  fixedpoint.MustAmount("18.75"),
			Tier3Prize:  fixedpoint.MustAmount("6.25"),
		},
		DrawEnabled: &drawEnabled,
		EndAt:       &endAt,
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Epoch
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestAmountsEncodeAsStrings(t *testing.T) {
	data, err := json.Marshal(PendingFunds{Insurance: fixedpoint.MustAmount("40")})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["insurance"] != "40.000000" {
		t.Fatalf("insurance should be a decimal string, got %v", decoded["insurance"])
	}
	if decoded["tier2_prize"] != "0.000000" {
		t.Fatalf("tier2_prize should be a decimal string, got %v", decoded["tier2_prize"])
	}
}
