package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"prizepool/internal/fixedpoint"
	"prizepool/internal/model"
)

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel      string
	Store         string
	StateFile     string
	PGDSN         string
	Report        string
	RPCURL        string
	Vault         string
	Token         string
	MaxRetries    int
	RetryBackoff  time.Duration
	EpochDuration time.Duration
	Epoch         EpochConfig
}

// EpochConfig is the yield split of new epochs, kept as decimal text until
// YieldSplit parses it.
type EpochConfig struct {
	JackpotTarget        string
	InsurancePremium     string
	InsuranceProbability string
	TreasuryRatio        string
	Tier2Share           uint
	Tier3Share           uint
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRIZEPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("store", StoreFile)
	v.SetDefault("state-file", "./data/ledger.json")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("epoch-duration", 7*24*time.Hour)
	v.SetDefault("jackpot-target", "100000")
	v.SetDefault("insurance-premium", "1")
	v.SetDefault("insurance-probability", "0.0001")
	v.SetDefault("treasury-ratio", "0.1")
	v.SetDefault("tier2-share", 3)
	v.SetDefault("tier3-share", 1)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:      v.GetString("log-level"),
		Store:         strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		StateFile:     v.GetString("state-file"),
		PGDSN:         v.GetString("pg-dsn"),
		Report:        v.GetString("report"),
		RPCURL:        v.GetString("rpc"),
		Vault:         v.GetString("vault"),
		Token:         v.GetString("token"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		EpochDuration: v.GetDuration("epoch-duration"),
		Epoch: EpochConfig{
			JackpotTarget:        v.GetString("jackpot-target"),
			InsurancePremium:     v.GetString("insurance-premium"),
			InsuranceProbability: v.GetString("insurance-probability"),
			TreasuryRatio:        v.GetString("treasury-ratio"),
			Tier2Share:           v.GetUint("tier2-share"),
			Tier3Share:           v.GetUint("tier3-share"),
		},
	}

	switch cfg.Store {
	case StoreFile, StorePostgres:
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}

	return cfg, nil
}

// YieldSplit parses the epoch configuration. Range checks are left to epoch
// creation.
func (c EpochConfig) YieldSplit() (model.YieldSplitCfg, error) {
	jackpot, err := fixedpoint.Parse[fixedpoint.Display](c.JackpotTarget)
	if err != nil {
		return model.YieldSplitCfg{}, fmt.Errorf("jackpot-target: %w", err)
	}
	premium, err := fixedpoint.Parse[fixedpoint.Internal](c.InsurancePremium)
	if err != nil {
		return model.YieldSplitCfg{}, fmt.Errorf("insurance-premium: %w", err)
	}
	probability, err := fixedpoint.Parse[fixedpoint.Internal](c.InsuranceProbability)
	if err != nil {
		return model.YieldSplitCfg{}, fmt.Errorf("insurance-probability: %w", err)
	}
	treasury, err := fixedpoint.Parse[fixedpoint.Internal](c.TreasuryRatio)
	if err != nil {
		return model.YieldSplitCfg{}, fmt.Errorf("treasury-ratio: %w", err)
	}
	if c.Tier2Share > 255 || c.Tier3Share > 255 {
		return model.YieldSplitCfg{}, fmt.Errorf("tier shares must fit in 0..255")
	}

	return model.YieldSplitCfg{
		JackpotTarget: jackpot,
		Insurance: model.InsuranceCfg{
			Premium:     premium,
			Probability: probability,
		},
		TreasuryRatio: treasury,
		Tier2Share:    uint8(c.Tier2Share),
		Tier3Share:    uint8(c.Tier3Share),
	}, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(val, 0).UTC(), nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return time.Time{}, err
	}
	return tm.UTC(), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
