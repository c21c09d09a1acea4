package model

import (
	"github.com/ethereum/go-ethereum/common"

	"prizepool/internal/stake"
)

// PoolState is the singleton pointer to the current epoch. It is consulted
// instead of scanning historical epochs.
type PoolState struct {
	Index                uint64                `json:"index"`
	Status               EpochStatus           `json:"status"`
	CumulativeReturnRate stake.Rate            `json:"cumulative_return_rate"`
	PendingFunds         PendingFunds          `json:"pending_funds"`
	TotalDeposits        stake.FloatingBalance `json:"total_deposits"`
	// Version counts committed changes to the pointer. Stores use it to
	// reject a change computed from a stale read.
	Version uint64 `json:"version"`
}

// Depositor is a single depositor's stake.
type Depositor struct {
	Owner   common.Address        `json:"owner"`
	Balance stake.FloatingBalance `json:"balance"`
}
