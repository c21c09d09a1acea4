package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"prizepool/internal/fixedpoint"
)

// EpochStatus is the lifecycle position of an epoch.
type EpochStatus string

const (
	StatusRunning    EpochStatus = "running"
	StatusYielding   EpochStatus = "yielding"
	StatusFinalising EpochStatus = "finalising"
	StatusEnded      EpochStatus = "ended"
)

// Epoch is one deposit, invest, return and draw cycle. Optional fields are
// filled in as the epoch advances.
type Epoch struct {
	Index          uint64             `json:"index"`
	Status         EpochStatus        `json:"status"`
	YieldSplitCfg  YieldSplitCfg      `json:"yield_split_cfg"`
	StartAt        time.Time          `json:"start_at"`
	ExpectedEndAt  time.Time          `json:"expected_end_at"`
	TicketSnapshot *TicketSnapshot    `json:"ticket_snapshot,omitempty"`
	TotalInvested  *fixedpoint.Amount `json:"total_invested,omitempty"`
	Returns        *Returns           `json:"returns,omitempty"`
	DrawEnabled    *bool              `json:"draw_enabled,omitempty"`
	EndAt          *time.Time         `json:"end_at,omitempty"`
	Winners        *WinnerCounts      `json:"winners,omitempty"`
	Awards         *Awards            `json:"awards,omitempty"`
}

// TicketSnapshot freezes the ticket distribution at investment time. Digest
// identifies the snapshot held by the winner selection service.
type TicketSnapshot struct {
	NumTickets uint64      `json:"num_tickets"`
	Digest     common.Hash `json:"digest"`
}

// WinnerCounts is the number of winners per prize tier published for a draw.
type WinnerCounts struct {
	Tier2 uint32 `json:"tier2"`
	Tier3 uint32 `json:"tier3"`
}

// Awards are the tier pools paid out to winners when the draw is published.
type Awards struct {
	Tier2 fixedpoint.Amount `json:"tier2"`
	Tier3 fixedpoint.Amount `json:"tier3"`
}
