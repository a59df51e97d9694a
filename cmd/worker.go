package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/league-payments/internal/terminal"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that keep the ledger in step with the payment processor.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile terminal attempts whose webhook never arrived",
	Long:  `Poll the processor for terminal payments still processing past the stale window and fold their results into the ledger.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var (
	sweepOnce     bool
	sweepInterval time.Duration
	sweepWorkers  int
	sweepBatch    int
)

func startReconcileWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()
	lg := deps.Logger

	cfg := deps.Config.Reconciliation
	sweeper := terminal.NewSweeper(deps.Orchestrator, terminal.SweepConfig{
		Workers:    getIntFlag(sweepWorkers, cfg.SweepWorkers),
		Batch:      getIntFlag(sweepBatch, cfg.SweepBatch),
		StaleAfter: cfg.StaleAfter,
	}, lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sweepOnce {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			lg.Error("reconcile pass failed", "error", err)
			os.Exit(1)
		}
		lg.Info("reconcile pass complete",
			"scanned", report.Scanned,
			"reconciled", report.Reconciled,
			"still_pending", report.StillPending,
			"unchanged", report.Unchanged,
			"failed", report.Failed)
		return
	}

	lg.Info("reconcile worker is running. Press Ctrl+C to stop.", "interval", sweepInterval)
	if err := sweeper.Run(ctx, sweepInterval); err != nil {
		lg.Error("reconcile worker stopped with error", "error", err)
		os.Exit(1)
	}
	lg.Info("reconcile worker shutdown complete")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single pass and exit")
	reconcileWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", time.Minute, "Time between passes")
	reconcileWorkerCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "Concurrent reconcilers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&sweepBatch, "batch", 0, "Attempts per pass (overrides config)")

	workerCmd.AddCommand(reconcileWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
