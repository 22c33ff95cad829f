package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropic/lifeos/internal/ipc"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/report"
)

func snapshotCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the latest cognitive resource snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			snap, err := client.Snapshot()
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(snap))
			} else {
				fmt.Print(report.FormatSnapshot(snap))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		since      time.Duration
		limit      int
		daily      int
		weekly     int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent snapshots or daily/weekly summaries",
		Long: `Show stored history through the daemon.

By default lists the snapshots of the last --since. Use --daily N or
--weekly N for the long-horizon summaries instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daily > 0 && weekly > 0 {
				return fmt.Errorf("--daily and --weekly are mutually exclusive")
			}
			client, err := newClient()
			if err != nil {
				return err
			}

			var h *ipc.HistoryData
			switch {
			case daily > 0:
				h, err = client.DailyHistory(daily)
			case weekly > 0:
				h, err = client.WeeklyHistory(weekly)
			default:
				h, err = client.History(since, limit)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(h))
			} else {
				fmt.Print(report.FormatHistory(h))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 10*time.Minute, "Snapshot lookback")
	cmd.Flags().IntVar(&limit, "limit", 60, "Maximum snapshots to list")
	cmd.Flags().IntVar(&daily, "daily", 0, "Show the last N daily summaries")
	cmd.Flags().IntVar(&weekly, "weekly", 0, "Show the last N weekly summaries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func heartRateCmd() *cobra.Command {
	var (
		since      time.Duration
		provenance string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "heartrate",
		Short: "Show the measured and estimated heart-rate stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			hr, err := client.HeartRate(since, model.Provenance(provenance))
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(hr))
			} else {
				fmt.Print(report.FormatHeartRate(hr))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", time.Hour, "Lookback")
	cmd.Flags().StringVar(&provenance, "provenance", "", "Only measured or estimated samples")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func forecastCmd() *cobra.Command {
	var (
		scenario   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project the score forward from the current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			f, err := client.Forecast(scenario)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(f))
			} else {
				fmt.Print(report.FormatForecast(f))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "continue", "continue or rest")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func eventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "event <kind> [magnitude]",
		Short: "Record one input event (key, click, scroll, pointer, backspace)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			magnitude := 1.0
			if len(args) == 2 {
				v, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid magnitude %q: %w", args[1], err)
				}
				magnitude = v
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			return client.RecordEvent(args[0], magnitude)
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch biometrics now and resume polling after a fatal error",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.RefreshBiometrics(); err != nil {
				return err
			}
			fmt.Println("biometric refresh requested")
			return nil
		},
	}
}

func trendCmd() *cobra.Command {
	var (
		days       int
		dbPath     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Report the effective-score trend over recent days",
		Long: `Summarise the daily aggregates of the last --days days.

Reads the SQLite database directly -- the daemon does not need to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DBPath
			}

			r, err := report.GenerateTrend(context.Background(), dbPath, days, cfg.Daemon.DayBoundaryHour, time.Now())
			if err != nil {
				return fmt.Errorf("generate trend report: %w", err)
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(r))
			} else {
				fmt.Print(report.FormatTrend(r))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "Number of days")
	cmd.Flags().StringVar(&dbPath, "db", "", "Override database path (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func rhythmCmd() *cobra.Command {
	var (
		days       int
		dbPath     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "rhythm",
		Short: "Show activity by hour of day",
		Long: `Profile non-idle activity by local hour over the rolling window.

Reads the SQLite database directly -- the daemon does not need to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DBPath
			}

			lookback := time.Duration(days) * 24 * time.Hour
			r, err := report.GenerateRhythm(context.Background(), dbPath, lookback, cfg.Engine.ChronotypeMinObs, time.Now())
			if err != nil {
				return fmt.Errorf("generate rhythm report: %w", err)
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(r))
			} else {
				fmt.Print(report.FormatRhythm(r))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Lookback in days")
	cmd.Flags().StringVar(&dbPath, "db", "", "Override database path (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newClient() (*ipc.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(cfg.SocketPath), nil
}
