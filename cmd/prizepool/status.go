package main

import (
	"github.com/spf13/cobra"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
)

type statusView struct {
	Pool     model.PoolState   `json:"pool"`
	Epoch    model.Epoch       `json:"epoch"`
	Deposits fixedpoint.Amount `json:"deposits"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pool state and its current epoch",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, stop := commandContext(cmd)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.service.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, statusView{Pool: status.State, Epoch: status.Epoch, Deposits: status.Deposits})
}
