package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	insightsconfig "lance/api_insights/internal/config"
	"lance/api_insights/internal/insights"
	"lance/pkg/version"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var userID, periodEnd string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and store the weekly snapshot for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parsePeriodEnd(periodEnd)
			if err != nil {
				return err
			}
			a, cfg, err := opts.connect(cmd, false, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout(cmd, cfg.BuildTimeout+time.Minute)
			defer cancel()
			snap, err := a.Refresher.Refresh(ctx, userID, end)
			if err != nil {
				var noCompetitors *insights.NoCompetitorsError
				if errors.As(err, &noCompetitors) {
					return fmt.Errorf("user %s has no competitors: add competitors first", userID)
				}
				return fmt.Errorf("build snapshot: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&periodEnd, "period-end", "", "exclusive period end date YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRunBatchCmd(opts *rootOptions) *cobra.Command {
	var periodEnd string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "run-batch",
		Short: "Build snapshots for every user with competitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parsePeriodEnd(periodEnd)
			if err != nil {
				return err
			}
			a, _, err := opts.connect(cmd, false, func(cfg *insightsconfig.Config) {
				if concurrency > 0 {
					cfg.BuildConcurrency = concurrency
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout(cmd, 2*time.Hour)
			defer cancel()
			summary, err := a.Scheduler.RunOnce(ctx, end)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d users failed", summary.Failed, summary.Users)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&periodEnd, "period-end", "", "exclusive period end date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel builds (default BUILD_CONCURRENCY)")
	return cmd
}

func newLatestCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the current snapshot for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.connect(cmd, false, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := withTimeout(cmd, 30*time.Second)
			defer cancel()
			snap, err := a.Store.LatestSnapshot(ctx, userID)
			if err != nil {
				return fmt.Errorf("latest snapshot for %s: %w", userID, err)
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := opts.connect(cmd, true, nil)
			if err != nil {
				return err
			}
			a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), version.GetInfo())
		},
	}
}
