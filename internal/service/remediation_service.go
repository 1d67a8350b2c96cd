package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pipeguard/pipeguard/internal/domain"
)

// RemediationWorkerOptions configures the pending-resolution dispatcher.
type RemediationWorkerOptions struct {
	Interval  time.Duration
	BatchSize int
}

// RemediationWorker drains pending resolutions in automatic mode. Semi
// automatic mode leaves execution to the operator API; the worker only
// runs resolutions the mode allows it to.
type RemediationWorker struct {
	logger  *zap.Logger
	healing *HealingService

	interval  time.Duration
	batchSize int

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewRemediationWorker creates the dispatcher. Start must be called for
// automatic mode to make progress.
func NewRemediationWorker(logger *zap.Logger, healing *HealingService, opts RemediationWorkerOptions) *RemediationWorker {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &RemediationWorker{
		logger:    logger,
		healing:   healing,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Start launches the background worker. Calling Start on a running worker
// is a no-op.
func (w *RemediationWorker) Start() {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.stop, w.done)
	w.logger.Info("remediation worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker and waits for the current sweep to finish.
func (w *RemediationWorker) Stop() {
	w.runMu.Lock()
	if !w.running {
		w.runMu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.runMu.Unlock()
	<-done
	w.logger.Info("remediation worker stopped")
}

// Running reports whether the worker loop is active.
func (w *RemediationWorker) Running() bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.running
}

func (w *RemediationWorker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep executes one batch of pending resolutions. Only automatic mode
// dispatches; every failure is logged and the rest of the batch continues.
func (w *RemediationWorker) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("remediation sweep panicked", zap.Any("panic", r))
		}
	}()

	if w.healing.Mode() != domain.HealingAutomatic {
		return
	}

	pending, err := w.healing.ResolutionsByStatus(ctx, domain.ResolutionStatusPending, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list pending resolutions", zap.Error(err))
		return
	}

	for _, res := range pending {
		if res.RecommendationOnly {
			continue
		}

		updated, err := w.healing.ExecuteResolution(ctx, res.ID)
		switch {
		case err == nil:
			w.logger.Info("resolution dispatched",
				zap.String("resolution_id", res.ID.String()),
				zap.String("action_id", res.ActionID),
				zap.String("status", string(updated.Status)),
			)
		case errors.Is(err, domain.ErrConflict):
			// Another dispatcher or an operator got there first.
		case errors.Is(err, domain.ErrTerminalState), errors.Is(err, domain.ErrApprovalPending):
			// Raced a state change between list and execute.
		default:
			w.logger.Error("failed to dispatch resolution",
				zap.String("resolution_id", res.ID.String()),
				zap.Error(err),
			)
		}
	}
}
