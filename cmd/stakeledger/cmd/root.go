package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/stakeledger/config"
	"github.com/rustyeddy/stakeledger/logging"
)

var rootCmd = &cobra.Command{
	Use:   "stakeledger",
	Short: "Time-locked staking ledger with a solvency-checked reward pool",
	Long: `Stakeledger keeps time-locked staking positions, accrues their rewards
at a fixed annual rate and guarantees that every promised reward is backed
by the reward pool.

It provides tools for:
  - Generating and validating ledger configuration
  - Replaying staking scenarios against a simulated clock
  - Querying the audit journal`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./stakeledger.yaml, STAKELEDGER_* env overrides)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

// loadConfig reads the config named by --config through viper.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, logging.New(cfg.Logging), nil
}
