package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prizepool/internal/chain"
	"prizepool/internal/config"
	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
)

func newCreateEpochCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-epoch",
		Short: "Open the next epoch",
		RunE:  runCreateEpoch,
	}

	cmd.Flags().Duration("epoch-duration", 7*24*time.Hour, "time until the expected end of the epoch")
	cmd.Flags().String("end-at", "", "expected end (unix seconds or RFC3339), overrides epoch-duration")
	cmd.Flags().String("jackpot-target", "100000", "jackpot target amount")
	cmd.Flags().String("insurance-premium", "1", "insurance premium multiplier")
	cmd.Flags().String("insurance-probability", "0.0001", "jackpot probability per ticket")
	cmd.Flags().String("treasury-ratio", "0.1", "share of yield after insurance sent to the treasury")
	cmd.Flags().Uint("tier2-share", 3, "tier 2 share of the prize yield")
	cmd.Flags().Uint("tier3-share", 1, "tier 3 share of the prize yield")
	return cmd
}

func runCreateEpoch(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	split, err := a.cfg.Epoch.YieldSplit()
	if err != nil {
		return err
	}

	endAt, _ := cmd.Flags().GetString("end-at")
	end, err := epochEnd(time.Now(), a.cfg.EpochDuration, endAt)
	if err != nil {
		return err
	}

	ep, err := a.service.CreateEpoch(ctx, split, end)
	if err != nil {
		return err
	}
	return printJSON(cmd, ep)
}

// epochEnd resolves the expected end of a new epoch. An explicit end-at is
// used as given; otherwise the epoch runs for duration from now.
func epochEnd(now time.Time, duration time.Duration, endAt string) (time.Time, error) {
	if endAt == "" {
		return now.Add(duration), nil
	}
	end, err := config.ParseTimestamp(endAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("end-at: %w", err)
	}
	return end, nil
}

func newInvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invest",
		Short: "Hand the epoch's funds to the yield source",
		RunE:  runInvest,
	}

	cmd.Flags().String("amount", "", "amount invested, defaults to the pool's deposits")
	cmd.Flags().Uint64("tickets", 0, "number of tickets in the snapshot")
	cmd.Flags().String("snapshot", "", "ticket snapshot digest (32 byte hex)")
	return cmd
}

func runInvest(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var amount *fixedpoint.Amount
	if text, _ := cmd.Flags().GetString("amount"); text != "" {
		parsed, err := fixedpoint.Parse[fixedpoint.Display](text)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		amount = &parsed
	}

	tickets, _ := cmd.Flags().GetUint64("tickets")
	digestText, _ := cmd.Flags().GetString("snapshot")
	digest, err := chain.ParseHash(digestText)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	ep, err := a.service.Invest(ctx, amount, model.TicketSnapshot{NumTickets: tickets, Digest: digest})
	if err != nil {
		return err
	}
	return printJSON(cmd, ep)
}

func newWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Record the investment's return and distribute it",
		RunE:  runWithdraw,
	}

	cmd.Flags().String("amount", "", "returned amount; when empty the vault balance is read over RPC")
	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("vault", "", "vault address holding the invested funds")
	cmd.Flags().String("token", "", "ERC20 token of the pool")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	return cmd
}

func runWithdraw(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var ep model.Epoch
	if text, _ := cmd.Flags().GetString("amount"); text != "" {
		amount, err := fixedpoint.Parse[fixedpoint.Display](text)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		ep, err = a.service.Withdraw(ctx, amount)
		if err != nil {
			return err
		}
	} else {
		ep, err = a.service.WithdrawFromSource(ctx)
		if err != nil {
			return err
		}
	}
	return printJSON(cmd, ep)
}

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the draw's winner counts and close the epoch",
		RunE:  runPublish,
	}

	cmd.Flags().Uint32("tier2-winners", 0, "number of tier 2 winners")
	cmd.Flags().Uint32("tier3-winners", 0, "number of tier 3 winners")
	return cmd
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	tier2, _ := cmd.Flags().GetUint32("tier2-winners")
	tier3, _ := cmd.Flags().GetUint32("tier3-winners")
	ep, err := a.service.PublishWinners(ctx, model.WinnerCounts{Tier2: tier2, Tier3: tier3})
	if err != nil {
		return err
	}
	return printJSON(cmd, ep)
}
