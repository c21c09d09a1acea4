package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"prizepool/internal/fixedpoint"
)

// TokenReader reads token state pinned to a block.
type TokenReader interface {
	Caller
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// VaultSource reports an epoch's return as the vault's holding of the pool
// token, rescaled from token decimals to a 6 digit amount (floor).
type VaultSource struct {
	Client       TokenReader
	Token        common.Address
	Vault        common.Address
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// ReturnAmount reads the vault balance at the latest block. The block is
// resolved first and logged, so the read can be repeated against an archive
// node.
func (v *VaultSource) ReturnAmount(ctx context.Context) (fixedpoint.Amount, error) {
	if v.Client == nil {
		return fixedpoint.Amount{}, fmt.Errorf("chain client is nil")
	}
	logger := v.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := RetryPolicy{
		MaxRetries: v.MaxRetries,
		Backoff:    v.RetryBackoff,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("vault read failed, retrying",
				zap.String("vault", v.Vault.Hex()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	var (
		amount fixedpoint.Amount
		block  uint64
	)
	err := policy.Do(ctx, func(ctx context.Context) error {
		decimals, err := v.Client.TokenDecimals(ctx, v.Token)
		if err != nil {
			return err
		}
		block, err = v.Client.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("latest block: %w", err)
		}
		raw, err := BalanceOf(ctx, v.Client, v.Token, v.Vault, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		scaled, err := fixedpoint.FromScaledBig[fixedpoint.Display](raw, uint(decimals))
		if err != nil {
			return fmt.Errorf("vault balance %s: %w", raw, err)
		}
		amount = scaled
		return nil
	})
	if err != nil {
		return fixedpoint.Amount{}, fmt.Errorf("read vault return: %w", err)
	}

	logger.Info("vault return",
		zap.String("vault", v.Vault.Hex()),
		zap.Uint64("block", block),
		zap.String("amount", amount.String()),
	)
	return amount, nil
}
