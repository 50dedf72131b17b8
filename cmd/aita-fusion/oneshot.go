package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aitastack/aita-fusion/internal/engine"
)

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "train",
			Short: "Retrain the risk scorer and the threat classifier",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, _ []string) (interface{}, engine.Outcome) {
				return a.pipeline.TrainModels(ctx)
			}),
		},
		&cobra.Command{
			Use:   "correlate",
			Short: "Correlate every pending log event against stored threats",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, _ []string) (interface{}, engine.Outcome) {
				return a.pipeline.ProcessPending(ctx)
			}),
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "Pull the upstream feed and store valid threat records",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, _ []string) (interface{}, engine.Outcome) {
				return a.pipeline.IngestThreats(ctx)
			}),
		},
		&cobra.Command{
			Use:   "enrich <threat-id>",
			Short: "Extract, classify and score one stored threat",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app, args []string) (interface{}, engine.Outcome) {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return nil, engine.Outcome{Status: engine.StatusFatal, Err: fmt.Errorf("threat id: %w", err)}
				}
				return a.pipeline.EnrichThreat(ctx, id)
			}),
		},
		&cobra.Command{
			Use:   "extract [text]",
			Short: "Extract indicators, entities and attack patterns from text or stdin",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runExtract,
		},
	)
}

func withApp(run func(ctx context.Context, a *app, args []string) (interface{}, engine.Outcome)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		value, outcome := run(cmd.Context(), a, args)
		if !outcome.OK() {
			return fmt.Errorf("%s: %s", cmd.Name(), outcome)
		}
		return printResult(cmd.OutOrStdout(), value)
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, logger: logger}
	extractor, err := a.buildExtractor()
	if err != nil {
		return err
	}

	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to extract from")
	}
	return printResult(cmd.OutOrStdout(), extractor.Extract(cmd.Context(), text))
}

func printResult(w io.Writer, value interface{}) error {
	if outputFmt == "text" {
		_, err := fmt.Fprintf(w, "%+v\n", value)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
