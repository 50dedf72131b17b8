package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aitastack/aita-fusion/internal/config"
	"github.com/aitastack/aita-fusion/internal/utils"
)

var version = "dev"

var (
	cfgFile   string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "aita-fusion",
	Short: "Threat-intel correlation and risk-fusion engine",
	Long: `aita-fusion enriches normalized threat records with indicators, entities,
attack patterns, a category and a risk score, and correlates security log
events against the enriched threats to raise alerts.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $AITA_FUSION_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "json", "output format: json, text")
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON), nil
}
