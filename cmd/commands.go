package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"framediff-server/internal/analysis"
	"framediff-server/internal/api"
	"framediff-server/internal/config"
	"framediff-server/internal/hashseq"
	"framediff-server/internal/processor"
)

var (
	pollTimeout  time.Duration
	jsonOutput   bool
	keepFrames   bool
	minThreshold float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		svc, err := newServices(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer svc.Close()

		var jobs api.JobQueue
		if svc.queue != nil {
			jobs = svc.queue
		}
		srv := api.NewServer(svc.db, jobs, svc.processor, svc.store, slog.Default())
		return srv.Run(ctx, ":"+cfg.Server.Port)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued video analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		svc, err := newServices(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer svc.Close()

		return processor.NewWorker(svc.processor, svc.queue, pollTimeout, slog.Default()).Run(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDatabase(ctx, config.FromContext(ctx))
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.AutoMigrate(ctx); err != nil {
			return err
		}
		slog.Info("database migrations completed")
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [input video]",
	Short: "Analyze a local video without the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		opts := cfg.Analysis.Options()
		if cmd.Flags().Changed("min-threshold") {
			opts.MinThreshold = minThreshold
		}

		workDir, err := os.MkdirTemp("", "framediff-*")
		if err != nil {
			return err
		}
		if keepFrames {
			slog.Info("keeping sampled frames", "dir", workDir)
		} else {
			defer os.RemoveAll(workDir)
		}

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Hashing frames"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetVisibility(!jsonOutput),
			progressbar.OptionClearOnFinish(),
		)
		hasher := hashseq.New(slog.Default(),
			hashseq.WithWorkers(cfg.Analysis.HashWorkers),
			hashseq.WithProgress(func() { _ = bar.Add(1) }),
		)

		result, err := analysis.New(newFFmpeg(cfg), hasher, opts, slog.Default()).Analyze(ctx, args[0], workDir)
		_ = bar.Finish()
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(newReport(args[0], result))
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(newReport(args[0], result)))
		return nil
	},
}

func init() {
	workerCmd.Flags().DurationVar(&pollTimeout, "poll-timeout", 5*time.Second, "how long to block waiting for a job")

	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	analyzeCmd.Flags().BoolVar(&keepFrames, "keep-frames", false, "keep the sampled frames after the run")
	analyzeCmd.Flags().Float64Var(&minThreshold, "min-threshold", 0, "override the minimum change threshold")
}
