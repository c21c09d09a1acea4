package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"prizepool/internal/chain"
	"prizepool/internal/config"
	"prizepool/internal/epoch"
	"prizepool/internal/ledger"
	"prizepool/internal/ledger/file"
	"prizepool/internal/ledger/postgres"
	"prizepool/internal/pool"
	"prizepool/internal/report"
)

func main() {
	root := &cobra.Command{
		Use:          "prizepool",
		Short:        "Prize savings pool operator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("store", config.StoreFile, "ledger store (file, postgres)")
	root.PersistentFlags().String("state-file", "./data/ledger.json", "ledger file for the file store")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN for the postgres store")
	root.PersistentFlags().String("report", "", "optional JSONL file receiving a line per ended epoch")

	root.AddCommand(
		newCreateEpochCmd(),
		newInvestCmd(),
		newWithdrawCmd(),
		newPublishCmd(),
		newDepositCmd(),
		newWithdrawStakeCmd(),
		newBalanceCmd(),
		newStatusCmd(),
		newSimulateCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is what a subcommand needs once config is loaded.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	service *pool.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	store, err := openStore(ctx, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	var source pool.ReturnSource
	if cfg.RPCURL != "" && cmd.Flags().Lookup("vault") != nil {
		source, err = openVault(ctx, a)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	svcCfg := pool.Config{Limits: epoch.DefaultLimits()}
	if cfg.Report != "" {
		svcCfg.Reports = report.NewJSONLFile(cfg.Report)
	}
	a.service = pool.NewService(svcCfg, store, source, logger)
	return a, nil
}

func openStore(ctx context.Context, a *app) (ledger.Store, error) {
	switch a.cfg.Store {
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, a.cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		if a.cfg.StateFile == "" {
			return nil, fmt.Errorf("state file is required")
		}
		return file.NewStore(a.cfg.StateFile), nil
	}
}

func openVault(ctx context.Context, a *app) (*chain.VaultSource, error) {
	vault, err := chain.ParseAddress(a.cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	token, err := chain.ParseAddress(a.cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	client, err := chain.NewClient(ctx, a.cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	return &chain.VaultSource{
		Client:       client,
		Token:        token,
		Vault:        vault,
		MaxRetries:   a.cfg.MaxRetries,
		RetryBackoff: a.cfg.RetryBackoff,
		Logger:       a.logger,
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
