package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"prizepool/internal/chain"
	"prizepool/internal/fixedpoint"
)

type balanceView struct {
	Owner  common.Address    `json:"owner"`
	Amount fixedpoint.Amount `json:"amount"`
}

func newDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Add to a depositor's stake",
		RunE:  runDeposit,
	}
	cmd.Flags().String("owner", "", "depositor address")
	cmd.Flags().String("amount", "", "amount deposited")
	return cmd
}

func newWithdrawStakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw-stake",
		Short: "Remove from a depositor's stake",
		RunE:  runWithdrawStake,
	}
	cmd.Flags().String("owner", "", "depositor address")
	cmd.Flags().String("amount", "", "amount withdrawn")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a depositor's stake at the current rate",
		RunE:  runBalance,
	}
	cmd.Flags().String("owner", "", "depositor address")
	return cmd
}

func runDeposit(cmd *cobra.Command, _ []string) error {
	return runStakeChange(cmd, true)
}

func runWithdrawStake(cmd *cobra.Command, _ []string) error {
	return runStakeChange(cmd, false)
}

func runStakeChange(cmd *cobra.Command, deposit bool) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	owner, err := ownerFlag(cmd)
	if err != nil {
		return err
	}
	text, _ := cmd.Flags().GetString("amount")
	amount, err := fixedpoint.Parse[fixedpoint.Display](text)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if deposit {
		_, err = a.service.Deposit(ctx, owner, amount)
	} else {
		_, err = a.service.WithdrawStake(ctx, owner, amount)
	}
	if err != nil {
		return err
	}

	balance, err := a.service.Balance(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(cmd, balanceView{Owner: owner, Amount: balance})
}

func runBalance(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	owner, err := ownerFlag(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	balance, err := a.service.Balance(ctx, owner)
	if err != nil {
		return err
	}
	return printJSON(cmd, balanceView{Owner: owner, Amount: balance})
}

func ownerFlag(cmd *cobra.Command) (common.Address, error) {
	text, _ := cmd.Flags().GetString("owner")
	owner, err := chain.ParseAddress(text)
	if err != nil {
		return common.Address{}, fmt.Errorf("owner: %w", err)
	}
	return owner, nil
}
