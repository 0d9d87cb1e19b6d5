package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"workbench/internal/monitor"
	"workbench/internal/sandbox"
)

// Reaper reclaims containers that carry the platform label but no longer
// back any session record. Such orphans appear when a cleanup enqueue is
// lost or a record write fails after launch.
type Reaper struct {
	repo     Repository
	runtime  sandbox.Runtime
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration
	stopSecs int
}

func NewReaper(repo Repository, runtime sandbox.Runtime, interval, maxAge time.Duration, stopSecs int, logger *slog.Logger) *Reaper {
	return &Reaper{
		repo:     repo,
		runtime:  runtime,
		logger:   logger.With("component", "reaper"),
		interval: interval,
		maxAge:   maxAge,
		stopSecs: stopSecs,
	}
}

// Run loops until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "max_age", r.maxAge)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("reaper reclaimed orphans", "count", n)
			}
		}
	}
}

// Sweep removes every labelled container older than maxAge whose id is not
// referenced by a current record. Returns the number reclaimed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	containers, err := r.runtime.ListManaged(ctx)
	if err != nil {
		return 0, err
	}
	if len(containers) == 0 {
		return 0, nil
	}

	records, err := r.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]bool, len(records))
	for _, rec := range records {
		referenced[rec.ContainerID] = true
	}

	cutoff := time.Now().Add(-r.maxAge)
	reclaimed := 0
	for _, c := range containers {
		if referenced[c.ID] {
			continue
		}
		if c.CreatedAt.After(cutoff) {
			// Grace period covers containers whose record write is
			// still in flight.
			continue
		}
		if err := r.runtime.Stop(ctx, c.ID, r.stopSecs); err != nil && !errors.Is(err, sandbox.ErrContainerNotFound) {
			r.logger.Warn("failed to stop orphan", "container_id", c.ID, "error", err)
		}
		if err := r.runtime.Remove(ctx, c.ID); err != nil {
			if !errors.Is(err, sandbox.ErrContainerNotFound) {
				r.logger.Warn("failed to remove orphan", "container_id", c.ID, "error", err)
			}
			continue
		}
		monitor.OrphansReclaimed.Inc()
		reclaimed++
		r.logger.Info("orphan container removed",
			"container_id", c.ID,
			"username", c.Username,
			"session_id", c.SessionID)
	}
	return reclaimed, nil
}
