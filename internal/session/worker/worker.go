// Package worker hosts the asynq task handlers for session teardown,
// workspace sweeps and signal dispatch.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	"workbench/internal/jobs"
	"workbench/internal/monitor"
	"workbench/internal/sandbox"
	"workbench/internal/session"
	"workbench/internal/workspace"
)

type Worker struct {
	repo     session.Repository
	runtime  sandbox.Runtime
	store    *workspace.Store
	jobs     *jobs.Manager
	logger   *slog.Logger
	stopSecs int
}

func New(repo session.Repository, runtime sandbox.Runtime, store *workspace.Store, jobMgr *jobs.Manager, stopSecs int, logger *slog.Logger) *Worker {
	return &Worker{
		repo:     repo,
		runtime:  runtime,
		store:    store,
		jobs:     jobMgr,
		logger:   logger.With("component", "worker"),
		stopSecs: stopSecs,
	}
}

// Register attaches all handlers to the asynq mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(session.TaskSessionCleanup, w.HandleSessionCleanup)
	mux.HandleFunc(session.TaskWorkspaceSweep, w.HandleWorkspaceSweep)
	mux.HandleFunc(session.TaskKillDispatch, w.HandleKillDispatch)
}

// HandleSessionCleanup tears down one captured session generation. Only the
// captured container and directory are touched; the record is deleted only
// while it still carries the captured session id, so a session started after
// the logout is never clobbered.
func (w *Worker) HandleSessionCleanup(ctx context.Context, t *asynq.Task) error {
	monitor.CleanupTasksTotal.Inc()

	var p session.CleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		monitor.CleanupFailures.Inc()
		return fmt.Errorf("invalid cleanup payload: %v: %w", err, asynq.SkipRetry)
	}

	w.teardownContainer(ctx, p.ContainerID)
	w.jobs.Forget(p.Username, p.ContainerID)

	if err := w.store.RemoveSession(p.SessionID); err != nil {
		monitor.CleanupFailures.Inc()
		return fmt.Errorf("failed to remove workspace dir: %w", err)
	}

	// The record is normally deleted at logout already; this covers
	// cleanup tasks enqueued by other paths and retried tasks.
	deleted, err := w.repo.DeleteIfSession(ctx, p.Username, p.SessionID)
	if err != nil && !errors.Is(err, session.ErrRecordNotFound) {
		monitor.CleanupFailures.Inc()
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	w.logger.Info("session cleaned up",
		"username", p.Username,
		"session_id", p.SessionID,
		"container_id", p.ContainerID,
		"record_deleted", deleted)
	return nil
}

// HandleWorkspaceSweep reclaims a superseded workspace directory.
func (w *Worker) HandleWorkspaceSweep(_ context.Context, t *asynq.Task) error {
	var p session.SweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid sweep payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := w.store.RemoveSession(p.SessionID); err != nil {
		return fmt.Errorf("failed to sweep workspace dir: %w", err)
	}
	w.logger.Info("workspace swept", "session_id", p.SessionID)
	return nil
}

// HandleKillDispatch delivers a pre-validated signal. Delivery is best
// effort: the process may have exited or the container may be gone, neither
// warrants a retry.
func (w *Worker) HandleKillDispatch(ctx context.Context, t *asynq.Task) error {
	var p session.KillPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid kill payload: %v: %w", err, asynq.SkipRetry)
	}

	cmd := []string{"kill", "-" + p.Signal, strconv.Itoa(p.PID)}
	res, err := w.runtime.ExecOutput(ctx, p.ContainerID, cmd)
	if err != nil {
		w.logger.Warn("signal dispatch failed",
			"container_id", p.ContainerID, "pid", p.PID, "signal", p.Signal, "error", err)
		return nil
	}
	if res.ExitCode != 0 {
		w.logger.Warn("kill exited nonzero",
			"container_id", p.ContainerID, "pid", p.PID, "signal", p.Signal,
			"exit_code", res.ExitCode, "stderr", res.Stderr)
		return nil
	}

	monitor.SignalsDispatched.WithLabelValues(p.Signal).Inc()
	w.logger.Info("signal dispatched",
		"container_id", p.ContainerID, "pid", p.PID, "signal", p.Signal)
	return nil
}

func (w *Worker) teardownContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	if err := w.runtime.Stop(ctx, containerID, w.stopSecs); err != nil && !errors.Is(err, sandbox.ErrContainerNotFound) {
		w.logger.Warn("failed to stop container", "container_id", containerID, "error", err)
	}
	if err := w.runtime.Remove(ctx, containerID); err != nil && !errors.Is(err, sandbox.ErrContainerNotFound) {
		w.logger.Warn("failed to remove container", "container_id", containerID, "error", err)
	}
}
