// Package report writes a line per finished epoch for operators and
// simulations.
package report

import (
	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
	"prizepool/internal/stake"
)

// Sink receives reports of finished epochs.
type Sink interface {
	PutEpochReports(reports []EpochReport) error
}

// EpochReport summarises an Ended epoch together with the pool state it left
// behind.
type EpochReport struct {
	Index         uint64              `json:"index"`
	TotalInvested fixedpoint.Amount   `json:"total_invested"`
	NumTickets    uint64              `json:"num_tickets"`
	Returns       model.Returns       `json:"returns"`
	DrawEnabled   bool                `json:"draw_enabled"`
	Winners       *model.WinnerCounts `json:"winners,omitempty"`
	Awards        *model.Awards       `json:"awards,omitempty"`
	Rate          stake.Rate          `json:"cumulative_return_rate"`
	Pending       model.PendingFunds  `json:"pending_funds"`
}

// FromEpoch builds the report of an epoch and the state after it.
func FromEpoch(ep model.Epoch, state model.PoolState) EpochReport {
	r := EpochReport{
		Index:   ep.Index,
		Winners: ep.Winners,
		Awards:  ep.Awards,
		Rate:    state.CumulativeReturnRate,
		Pending: state.PendingFunds,
	}
	if ep.TotalInvested != nil {
		r.TotalInvested = *ep.TotalInvested
	}
	if ep.TicketSnapshot != nil {
		r.NumTickets = ep.TicketSnapshot.NumTickets
	}
	if ep.Returns != nil {
		r.Returns = *ep.Returns
	}
	if ep.DrawEnabled != nil {
		r.DrawEnabled = *ep.DrawEnabled
	}
	return r
}
