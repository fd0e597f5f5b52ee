package ledger

import (
	"context"
	"log/slog"
	"time"
)

// PurgeWorker periodically hard-deletes soft-deleted executions once
// they age past the retention window.
type PurgeWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewPurgeWorker creates a new PurgeWorker. retentionDays controls how
// long soft-deleted executions stay recoverable.
func NewPurgeWorker(store *Store, retentionDays int, interval time.Duration, logger *slog.Logger) *PurgeWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &PurgeWorker{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
	}
}

// Run starts the purge worker. It runs until the context is cancelled.
func (w *PurgeWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("execution purge worker disabled",
			"retentionDays", int(w.retention.Hours()/24))
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("execution purge worker started",
		"retentionDays", int(w.retention.Hours()/24),
		"interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("execution purge worker stopped")
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

// purge performs a single retention pass.
func (w *PurgeWorker) purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.retention)
	purged, err := w.store.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("execution purge failed", "error", err)
	} else if purged > 0 {
		w.logger.Info("execution purge completed",
			"purged", purged,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}
