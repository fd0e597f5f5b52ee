package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelkeep/modelkeep/pkg/backend"
)

// ErrQueueFull is returned by Dispatch when the execution queue has no
// room left.
var ErrQueueFull = errors.New("execution queue is full")

// Runner executes begun executions against the backend using a pool of
// goroutines. Begin hands execution ids to Dispatch; a janitor loop
// fails executions that have been running longer than the stuck timeout,
// which also covers ids lost to a restart since the queue is in-memory.
type Runner struct {
	svc     *Service
	backend backend.Backend
	cfg     *Config
	logger  *slog.Logger
	queue   chan string
	wg      sync.WaitGroup
}

// NewRunner creates a runner. Wire it back into the service with
// Service.SetRunner so Begin can dispatch to it.
func NewRunner(svc *Service, be backend.Backend, cfg *Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Runner{
		svc:     svc,
		backend: be,
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan string, cfg.QueueSize),
	}
}

// Dispatch queues an execution for a worker without blocking. Returns
// ErrQueueFull when the queue is saturated.
func (r *Runner) Dispatch(id string) error {
	select {
	case r.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and the janitor. It blocks until the context is
// cancelled, then waits for in-flight executions to finish.
func (r *Runner) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		r.logger.Info("execution runner disabled")
		return
	}

	r.logger.Info("execution runner starting",
		"concurrency", r.cfg.Concurrency,
		"queueSize", r.cfg.QueueSize,
		"executionTimeout", r.cfg.ExecutionTimeout.String())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.janitorLoop(ctx)
	}()

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go func(workerID int) {
			defer r.wg.Done()
			r.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	r.logger.Info("execution runner shutting down, waiting for workers to finish")
	r.wg.Wait()
	r.logger.Info("execution runner stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (r *Runner) workerLoop(ctx context.Context, workerID int) {
	r.logger.Info("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker stopped", "workerID", workerID)
			return
		case id := <-r.queue:
			r.process(ctx, workerID, id)
		}
	}
}

// process runs one execution against the backend and records the result.
func (r *Runner) process(ctx context.Context, workerID int, id string) {
	exec, err := r.svc.store.Get(ctx, id, true)
	if err != nil {
		r.logger.Error("failed to load execution", "workerID", workerID, "executionId", id, "error", err)
		return
	}
	if exec == nil || exec.Status.IsTerminal() {
		return
	}

	mv, err := r.svc.registry.Get(ctx, exec.ModelVersionID)
	if err != nil {
		r.fail(ctx, id, fmt.Sprintf("model version unavailable: %v", err))
		return
	}

	r.logger.Info("executing",
		"workerID", workerID,
		"executionId", id,
		"modelVersionId", mv.ID,
		"artifactRef", mv.ArtifactRef)

	execCtx := ctx
	if r.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.cfg.ExecutionTimeout)
		defer cancel()
	}

	output, err := r.backend.Execute(execCtx, mv.ArtifactRef, map[string]any(exec.Inputs))
	if err != nil {
		r.fail(ctx, id, err.Error())
		return
	}
	if _, err := r.svc.Complete(ctx, id, output); err != nil {
		r.logger.Error("failed to record execution result", "executionId", id, "error", err)
	}
}

func (r *Runner) fail(ctx context.Context, id, detail string) {
	if _, err := r.svc.Fail(ctx, id, detail); err != nil {
		r.logger.Error("failed to record execution failure", "executionId", id, "error", err)
	}
}

// janitorLoop periodically fails executions stuck past the stuck timeout.
func (r *Runner) janitorLoop(ctx context.Context) {
	if r.cfg.StuckTimeout <= 0 || r.cfg.JanitorInterval <= 0 {
		return
	}

	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.failStuck(ctx)
		}
	}
}

// failStuck performs a single janitor sweep.
func (r *Runner) failStuck(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.cfg.StuckTimeout)
	detail := fmt.Sprintf("execution exceeded %s without completing", r.cfg.StuckTimeout)
	failed, err := r.svc.store.FailStuck(ctx, cutoff, detail)
	if err != nil {
		r.logger.Error("janitor sweep failed", "error", err)
		return
	}
	for i := range failed {
		r.logger.Warn("failed stuck execution",
			"executionId", failed[i].ID,
			"startedAt", failed[i].StartedAt.Format(time.RFC3339))
		r.svc.publishFailed(&failed[i])
	}
}
