// Package cmd is the risk-desk command line: serve runs the API, plan and
// candles are one-shot helpers over the same core.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risk-desk/pkg/config"
	"risk-desk/pkg/i18n"
	"risk-desk/pkg/logger"
)

const version = "0.3.0"

var (
	cfg       *config.Config
	log       *zap.Logger
	logLevel  string
	logFormat string
	exchanges []string
)

// rootCmd represents the base command for the risk desk CLI.
var rootCmd = &cobra.Command{
	Use:           "risk-desk",
	Short:         "Candle sync and position risk planning for leveraged trading",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if cmd.Flags().Changed("exchanges") {
			cfg.Exchanges = exchanges
		}

		log, err = logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		i18n.SetLanguage(i18n.ParseLanguage(cfg.Language))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json or console)")
	rootCmd.PersistentFlags().StringSliceVar(&exchanges, "exchanges", nil, "enabled exchange ids (overrides EXCHANGES)")
	rootCmd.AddCommand(serveCmd, planCmd, candlesCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
