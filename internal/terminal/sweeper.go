package terminal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/league-payments/internal"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
)

const (
	defaultSweepWorkers = 4
	defaultSweepBatch   = 100
	defaultStaleAfter   = 10 * time.Minute
)

type sweepJob struct {
	PaymentMethodID int64
	IntentID        string
}

type worker struct {
	id     int
	pool   chan chan sweepJob
	jobs   chan sweepJob
	logger *slog.Logger
}

func newWorker(id int, pool chan chan sweepJob, logger *slog.Logger) *worker {
	return &worker{
		id:     id,
		pool:   pool,
		jobs:   make(chan sweepJob),
		logger: logger,
	}
}

func (w *worker) start(stop context.Context, wg *sync.WaitGroup, process func(sweepJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			w.pool <- w.jobs

			select {
			case job := <-w.jobs:
				w.logger.Debug("sweeper: worker processing intent", "worker_id", w.id, "intent_id", job.IntentID)
				process(job)
			case <-stop.Done():
				w.logger.Debug("sweeper: worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

type SweepConfig struct {
	Workers    int
	Batch      int
	StaleAfter time.Duration
}

type SweepReport struct {
	Scanned      int `json:"scanned"`
	Reconciled   int `json:"reconciled"`
	StillPending int `json:"stillPending"`
	Unchanged    int `json:"unchanged"`
	Failed       int `json:"failed"`
}

// Sweeper reconciles terminal attempts whose webhook never arrived.
type Sweeper struct {
	orchestrator *Orchestrator
	workers      int
	batch        int
	staleAfter   time.Duration
	logger       *slog.Logger
}

func NewSweeper(orchestrator *Orchestrator, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultSweepWorkers
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultSweepBatch
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &Sweeper{
		orchestrator: orchestrator,
		workers:      cfg.Workers,
		batch:        cfg.Batch,
		staleAfter:   cfg.StaleAfter,
		logger:       logger,
	}
}

// Sweep runs one pass over attempts still processing after the stale window.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	cutoff := s.orchestrator.now().Add(-s.staleAfter)
	stale, err := s.orchestrator.ledger.ListInFlightTerminal(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("sweeper: failed to list in-flight attempts", "error", err)
		return nil, err
	}

	report := &SweepReport{Scanned: len(stale)}
	if len(stale) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	process := func(job sweepJob) {
		outcome := s.reconcile(ctx, job)
		switch outcome {
		case sweepReconciled:
			count(&report.Reconciled)
		case sweepPending:
			count(&report.StillPending)
		case sweepUnchanged:
			count(&report.Unchanged)
		default:
			count(&report.Failed)
		}
	}

	workers := s.workers
	if workers > len(stale) {
		workers = len(stale)
	}
	stop, cancel := context.WithCancel(ctx)
	pool := make(chan chan sweepJob, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		newWorker(i, pool, s.logger).start(stop, &wg, process)
	}

dispatch:
	for _, pm := range stale {
		job := sweepJob{PaymentMethodID: pm.ID, IntentID: pm.Terminal().PaymentIntentID}
		select {
		case jobs := <-pool:
			select {
			case jobs <- job:
			case <-ctx.Done():
				s.logger.Info("sweeper: dispatcher shutting down")
				break dispatch
			}
		case <-ctx.Done():
			s.logger.Info("sweeper: dispatcher shutting down")
			break dispatch
		}
	}
	cancel()
	wg.Wait()

	s.logger.Info("sweeper: pass complete",
		"scanned", report.Scanned,
		"reconciled", report.Reconciled,
		"still_pending", report.StillPending,
		"unchanged", report.Unchanged,
		"failed", report.Failed)
	return report, ctx.Err()
}

type sweepOutcome int

const (
	sweepFailed sweepOutcome = iota
	sweepReconciled
	sweepPending
	sweepUnchanged
)

func (s *Sweeper) reconcile(ctx context.Context, job sweepJob) sweepOutcome {
	o := s.orchestrator
	var result *gatewaytypes.PaymentResult
	err := o.Call(ctx, "get_payment_result", func(ctx context.Context) error {
		var callErr error
		result, callErr = o.gateway.GetPaymentResult(ctx, job.IntentID)
		return callErr
	})
	if errors.Is(err, internal.ErrIntentNotFound) {
		result = &gatewaytypes.PaymentResult{
			IntentID:      job.IntentID,
			Status:        "missing",
			Outcome:       gatewaytypes.OutcomeFailed,
			FailureReason: "payment intent no longer exists at the processor",
		}
	} else if err != nil {
		s.logger.Error("sweeper: failed to fetch intent", "error", err, "intent_id", job.IntentID, "payment_method_id", job.PaymentMethodID)
		return sweepFailed
	}

	if !result.Outcome.Terminal() {
		return sweepPending
	}
	rec, err := o.Reconcile(ctx, *result, SourceSweep)
	if err != nil {
		s.logger.Error("sweeper: reconciliation failed", "error", err, "intent_id", job.IntentID, "payment_method_id", job.PaymentMethodID)
		return sweepFailed
	}
	if rec.Applied {
		return sweepReconciled
	}
	return sweepUnchanged
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("sweeper: started", "interval", interval, "workers", s.workers, "stale_after", s.staleAfter)
	for {
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("sweeper: pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper: stopped")
			return nil
		case <-ticker.C:
		}
	}
}
