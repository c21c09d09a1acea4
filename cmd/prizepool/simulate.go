package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"prizepool/internal/config"
	"prizepool/internal/epoch"
	"prizepool/internal/fixedpoint"
	"prizepool/internal/ledger/memory"
	"prizepool/internal/model"
	"prizepool/internal/pool"
	"prizepool/internal/report"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run epochs against an in-memory ledger and print each epoch's report",
		RunE:  runSimulate,
	}

	cmd.Flags().StringSlice("returns", []string{"1.05", "0.98", "1.2"}, "return multiplier of each epoch (comma-separated)")
	cmd.Flags().String("deposit", "1000", "amount deposited before the first epoch")
	cmd.Flags().Uint64("tickets", 1000, "tickets in each epoch's snapshot")
	cmd.Flags().Uint32("tier2-winners", 1, "tier 2 winners of each draw")
	cmd.Flags().Uint32("tier3-winners", 0, "tier 3 winners of each draw")
	cmd.Flags().String("jackpot-target", "100000", "jackpot target amount")
	cmd.Flags().String("insurance-premium", "1", "insurance premium multiplier")
	cmd.Flags().String("insurance-probability", "0.0001", "jackpot probability per ticket")
	cmd.Flags().String("treasury-ratio", "0.1", "share of yield after insurance sent to the treasury")
	cmd.Flags().Uint("tier2-share", 3, "tier 2 share of the prize yield")
	cmd.Flags().Uint("tier3-share", 1, "tier 3 share of the prize yield")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	cfgFile, _ := cmd.Flags().GetString("config")
	a, err := openSimulation(cfgFile, cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	split, err := a.cfg.Epoch.YieldSplit()
	if err != nil {
		return err
	}
	multipliers, _ := cmd.Flags().GetStringSlice("returns")
	depositText, _ := cmd.Flags().GetString("deposit")
	deposit, err := fixedpoint.Parse[fixedpoint.Display](depositText)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	tickets, _ := cmd.Flags().GetUint64("tickets")
	tier2, _ := cmd.Flags().GetUint32("tier2-winners")
	tier3, _ := cmd.Flags().GetUint32("tier3-winners")

	clock := time.Now().UTC()
	svc := pool.NewService(pool.Config{
		Limits:  epoch.DefaultLimits(),
		Now:     func() time.Time { return clock },
		Reports: report.NewJSONLWriter(cmd.OutOrStdout()),
	}, memory.NewStore(), nil, a.logger)

	depositor := common.HexToAddress("0x0000000000000000000000000000000000000001")
	for i, text := range multipliers {
		multiplier, err := fixedpoint.Parse[fixedpoint.Internal](strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("return multiplier %q: %w", text, err)
		}

		if _, err := svc.CreateEpoch(ctx, split, clock.Add(a.cfg.EpochDuration)); err != nil {
			return err
		}
		if i == 0 {
			if _, err := svc.Deposit(ctx, depositor, deposit); err != nil {
				return err
			}
		}
		ep, err := svc.Invest(ctx, nil, model.TicketSnapshot{NumTickets: tickets})
		if err != nil {
			return err
		}

		returned, err := applyMultiplier(*ep.TotalInvested, multiplier)
		if err != nil {
			return fmt.Errorf("epoch %d return: %w", ep.Index, err)
		}
		clock = clock.Add(a.cfg.EpochDuration)
		ep, err = svc.Withdraw(ctx, returned)
		if err != nil {
			return err
		}
		if ep.Status == model.StatusFinalising {
			if _, err := svc.PublishWinners(ctx, model.WinnerCounts{Tier2: tier2, Tier3: tier3}); err != nil {
				return err
			}
		}
	}

	balance, err := svc.Balance(ctx, depositor)
	if err != nil {
		return err
	}
	a.logger.Info("simulation complete",
		zap.Int("epochs", len(multipliers)),
		zap.String("deposited", deposit.String()),
		zap.String("balance", balance.String()),
	)
	return nil
}

// openSimulation loads config and a logger without opening a ledger store.
func openSimulation(cfgFile string, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func applyMultiplier(amount fixedpoint.Amount, multiplier fixedpoint.Ratio) (fixedpoint.Amount, error) {
	wide, err := fixedpoint.Convert[fixedpoint.Internal](amount)
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	wide, err = wide.Mul(multiplier)
	if err != nil {
		return fixedpoint.Amount{}, err
	}
	return fixedpoint.Convert[fixedpoint.Display](wide)
}
