package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/report"
)

func TestApplyMultiplier(t *testing.T) {
	got, err := applyMultiplier(fixedpoint.MustAmount("1000"), fixedpoint.MustRatio("1.05"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.String() != "1050.000000" {
		t.Fatalf("amount: %s", got)
	}
	got, err = applyMultiplier(fixedpoint.MustAmount("0.000001"), fixedpoint.MustRatio("0.5"))
	if err != nil || !got.IsZero() {
		t.Fatalf("truncation: %s (%v)", got, err)
	}
}

func TestSimulateCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newSimulateCmd()
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", "error", "")
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--returns=1.05,0.98,1.2", "--deposit=1000", "--tickets=10"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	var reports []report.EpochReport
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r report.EpochReport
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		reports = append(reports, r)
	}
	if len(reports) != 3 {
		t.Fatalf("reports: %d", len(reports))
	}
	if reports[0].TotalInvested.String() != "1000.000000" || reports[0].Returns.Total.String() != "1050.000000" {
		t.Fatalf("first epoch: %+v", reports[0])
	}
	if reports[1].Rate.String() != "0.980000000000000000" {
		t.Fatalf("second epoch rate: %s", reports[1].Rate)
	}
	if reports[2].TotalInvested.String() != "980.000000" {
		t.Fatalf("third epoch invested: %s", reports[2].TotalInvested)
	}
}
