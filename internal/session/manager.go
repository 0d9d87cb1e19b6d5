package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"workbench/internal/monitor"
	"workbench/internal/quota"
	"workbench/internal/sandbox"
	"workbench/internal/workspace"
)

// Options are the container launch parameters shared by every session.
type Options struct {
	DefaultImage       string
	MemoryLimitBytes   int64
	CPULimit           float64
	StopTimeoutSeconds int
}

// Manager reconciles session records with their containers. Teardown work
// always goes through the task queue; the only container the manager starts
// synchronously is the one the caller is waiting for.
type Manager struct {
	repo    Repository
	runtime sandbox.Runtime
	store   *workspace.Store
	queue   Enqueuer
	logger  *slog.Logger
	opts    Options
}

func NewManager(repo Repository, runtime sandbox.Runtime, store *workspace.Store, queue Enqueuer, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		repo:    repo,
		runtime: runtime,
		store:   store,
		queue:   queue,
		logger:  logger.With("component", "session-manager"),
		opts:    opts,
	}
}

// Resolve returns the user's current record.
func (m *Manager) Resolve(ctx context.Context, username string) (*Session, error) {
	rec, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return rec, nil
}

// ActiveSessionOrFail returns the record when it can serve file and job
// operations. A record without a session id predates the current schema and
// cannot name a workspace directory.
func (m *Manager) ActiveSessionOrFail(ctx context.Context, username string) (*Session, error) {
	rec, err := m.Resolve(ctx, username)
	if err != nil {
		return nil, err
	}
	if rec.SessionID == "" {
		return nil, ErrNoActiveSession
	}
	return rec, nil
}

// StartOrReplace ensures the user has a running container. An empty image
// requests the record's image (or the default). The session id is reused
// when resuming or restarting with an unchanged image and rotated on fresh
// login or image change; a rotation enqueues a sweep of the superseded
// directory. Same-user races resolve last-writer-wins, the reaper reclaims
// any container that loses its record.
func (m *Manager) StartOrReplace(ctx context.Context, username, image string) (*Session, error) {
	rec, err := m.repo.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}

	if rec == nil {
		if image == "" {
			image = m.opts.DefaultImage
		}
		return m.launch(ctx, &Session{
			Username:   username,
			SessionID:  uuid.NewString(),
			Image:      image,
			QuotaBytes: quota.DefaultBytes,
			CreatedAt:  time.Now(),
		})
	}

	sameImage := image == "" || image == rec.Image
	if sameImage {
		if rec.ContainerID != "" && m.runtime.IsRunning(ctx, rec.ContainerID) {
			return rec, nil
		}
		// Crashed or stopped container: relaunch into the same
		// workspace under the same session id.
		m.teardownContainer(ctx, rec.ContainerID)
		next := *rec
		if next.Image == "" {
			next.Image = m.opts.DefaultImage
		}
		return m.launch(ctx, &next)
	}

	// Image change: the old generation is torn down and its directory
	// reclaimed asynchronously under a fresh session id.
	m.teardownContainer(ctx, rec.ContainerID)
	m.enqueueSweep(rec.SessionID)

	next := *rec
	next.SessionID = uuid.NewString()
	next.Image = image
	return m.launch(ctx, &next)
}

func (m *Manager) launch(ctx context.Context, rec *Session) (*Session, error) {
	hostDir, err := m.store.EnsureDir(rec.SessionID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	containerID, err := m.runtime.Run(ctx, sandbox.RunOptions{
		Username:    rec.Username,
		SessionID:   rec.SessionID,
		Image:       rec.Image,
		HostDir:     hostDir,
		MemoryLimit: m.opts.MemoryLimitBytes,
		CPULimit:    m.opts.CPULimit,
	})
	monitor.ObserveContainerStart(time.Since(started), err)
	if err != nil {
		return nil, err
	}

	rec.ContainerID = containerID
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	if err := m.repo.Upsert(ctx, rec); err != nil {
		// Record-less container, the reaper will collect it.
		m.teardownContainer(ctx, containerID)
		return nil, fmt.Errorf("failed to persist session record: %w", err)
	}

	m.logger.Info("container started",
		"username", rec.Username,
		"session_id", rec.SessionID,
		"container_id", containerID,
		"image", rec.Image)
	return rec, nil
}

// ScheduleLogout deletes the record synchronously so the user is logged out
// the moment this returns, then hands the captured container and session id
// to the cleanup task. The handler fences on the captured session id, a
// session started after this call is never torn down by it.
func (m *Manager) ScheduleLogout(ctx context.Context, username string) error {
	rec, err := m.Resolve(ctx, username)
	if err != nil {
		return err
	}

	captured := CleanupPayload{
		Username:    username,
		ContainerID: rec.ContainerID,
		SessionID:   rec.SessionID,
	}
	if err := m.repo.Delete(ctx, username); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	task, err := NewCleanupTask(captured)
	if err != nil {
		return fmt.Errorf("failed to build cleanup task: %w", err)
	}
	if _, err := m.queue.Enqueue(task); err != nil {
		// The record is already gone, the reaper covers the container.
		m.logger.Error("failed to enqueue cleanup task",
			"username", username, "error", err)
		return nil
	}

	m.logger.Info("logout scheduled",
		"username", username,
		"session_id", captured.SessionID,
		"container_id", captured.ContainerID)
	return nil
}

// UpdateQuota persists a new quota, clamped to the platform floor.
func (m *Manager) UpdateQuota(ctx context.Context, username string, quotaBytes int64) (int64, error) {
	if quotaBytes < quota.DefaultBytes {
		quotaBytes = quota.DefaultBytes
	}
	if _, err := m.ActiveSessionOrFail(ctx, username); err != nil {
		return 0, err
	}
	if err := m.repo.UpdateQuota(ctx, username, quotaBytes); err != nil {
		return 0, fmt.Errorf("failed to update quota: %w", err)
	}
	return quotaBytes, nil
}

// List returns every current session record.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	return m.repo.List(ctx)
}

func (m *Manager) teardownContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	if err := m.runtime.Stop(ctx, containerID, m.opts.StopTimeoutSeconds); err != nil && !errors.Is(err, sandbox.ErrContainerNotFound) {
		m.logger.Warn("failed to stop container", "container_id", containerID, "error", err)
	}
	if err := m.runtime.Remove(ctx, containerID); err != nil && !errors.Is(err, sandbox.ErrContainerNotFound) {
		m.logger.Warn("failed to remove container", "container_id", containerID, "error", err)
	}
}

func (m *Manager) enqueueSweep(sessionID string) {
	if sessionID == "" {
		return
	}
	task, err := NewSweepTask(SweepPayload{SessionID: sessionID})
	if err != nil {
		m.logger.Error("failed to build sweep task", "error", err)
		return
	}
	if _, err := m.queue.Enqueue(task); err != nil {
		m.logger.Error("failed to enqueue sweep task", "session_id", sessionID, "error", err)
	}
}
