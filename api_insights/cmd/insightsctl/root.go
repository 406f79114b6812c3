package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lance/api_insights/internal/app"
	insightsconfig "lance/api_insights/internal/config"
	"lance/pkg/config"
	"lance/pkg/logging"
	"lance/pkg/monitoring"
	"lance/pkg/version"
)

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "insightsctl",
		Short:         "Operator tool for competitor insight snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newBuildCmd(opts))
	rootCmd.AddCommand(newRunBatchCmd(opts))
	rootCmd.AddCommand(newLatestCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (o *rootOptions) logger(cmd *cobra.Command) logging.Logger {
	logger := logging.NewLoggerWithService("insightsctl")
	logger.SetOutput(cmd.ErrOrStderr())
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// connect loads the environment and wires the pipeline for one command.
// override may adjust the loaded config before anything connects.
func (o *rootOptions) connect(cmd *cobra.Command, migrate bool, override func(*insightsconfig.Config)) (*app.App, insightsconfig.Config, error) {
	logger := o.logger(cmd)
	config.LoadEnv(logger)
	cfg := insightsconfig.LoadConfig()
	if override != nil {
		override(&cfg)
	}

	mc := monitoring.NewMetricsCollector("insightsctl", version.Version, version.GitCommit)
	a, err := app.New(cmd.Context(), cfg, logger, mc, app.Options{Migrate: migrate})
	if err != nil {
		return nil, cfg, err
	}
	return a, cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePeriodEnd accepts an empty string (today) or YYYY-MM-DD.
func parsePeriodEnd(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --period-end %q: expected YYYY-MM-DD", raw)
	}
	return t, nil
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
