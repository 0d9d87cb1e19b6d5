// Package service composes the platform components behind one facade the API
// layer calls. It owns cross-component flows (logout closing terminals,
// kills flowing through the task queue) but no transport concerns.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"workbench/internal/adminauth"
	"workbench/internal/jobs"
	"workbench/internal/monitor"
	"workbench/internal/quota"
	"workbench/internal/sandbox"
	"workbench/internal/session"
	"workbench/internal/terminal"
	"workbench/internal/workspace"
)

var (
	ErrInvalidUsername = errors.New("invalid username")

	// ErrQuotaBelowFloor rejects quota updates under the platform minimum.
	ErrQuotaBelowFloor = errors.New("quota below minimum")
)

type Service struct {
	sessions  *session.Manager
	repo      session.Repository
	runtime   sandbox.Runtime
	store     *workspace.Store
	jobs      *jobs.Manager
	admin     *adminauth.Authenticator
	terminals *terminal.Registry
	queue     session.Enqueuer
	logger    *slog.Logger

	adminUser string
	stopSecs  int
}

func New(
	sessions *session.Manager,
	repo session.Repository,
	runtime sandbox.Runtime,
	store *workspace.Store,
	jobMgr *jobs.Manager,
	admin *adminauth.Authenticator,
	terminals *terminal.Registry,
	queue session.Enqueuer,
	adminUser string,
	stopSecs int,
	logger *slog.Logger,
) *Service {
	return &Service{
		sessions:  sessions,
		repo:      repo,
		runtime:   runtime,
		store:     store,
		jobs:      jobMgr,
		admin:     admin,
		terminals: terminals,
		queue:     queue,
		logger:    logger.With("component", "service"),
		adminUser: adminUser,
		stopSecs:  stopSecs,
	}
}

// Auth reports whether the user already has a running container. It never
// starts one and never touches the filesystem, the workspace directory is
// deferred until an image is chosen.
func (s *Service) Auth(ctx context.Context, username string) (*AuthStatus, error) {
	uname := strings.TrimSpace(username)
	if uname == "" {
		return nil, ErrInvalidUsername
	}

	status := &AuthStatus{Username: uname}
	rec, err := s.sessions.Resolve(ctx, uname)
	if err != nil {
		if errors.Is(err, session.ErrNotLoggedIn) {
			return status, nil
		}
		return nil, err
	}
	if rec.ContainerID != "" && s.runtime.IsRunning(ctx, rec.ContainerID) {
		status.HasContainer = true
		status.ContainerID = rec.ContainerID
	}
	return status, nil
}

// Login starts or resumes the user's container with its recorded image, or
// the platform default for a first login.
func (s *Service) Login(ctx context.Context, username string) (*session.Session, error) {
	uname := strings.TrimSpace(username)
	if uname == "" {
		return nil, ErrInvalidUsername
	}
	return s.sessions.StartOrReplace(ctx, uname, "")
}

// StartContainer starts (or replaces) the user's container with the chosen
// image.
func (s *Service) StartContainer(ctx context.Context, username, image string) (*session.Session, error) {
	uname := strings.TrimSpace(username)
	if uname == "" {
		return nil, ErrInvalidUsername
	}
	if image == "" {
		return nil, fmt.Errorf("%w: image is required", sandbox.ErrImageNotFound)
	}
	return s.sessions.StartOrReplace(ctx, uname, image)
}

// Logout force-closes the user's terminals and schedules the session
// teardown. Logging out without a session is not an error.
func (s *Service) Logout(ctx context.Context, username string) (bool, error) {
	if closed := s.terminals.CloseAll(username); closed > 0 {
		s.logger.Info("terminals closed on logout", "username", username, "count", closed)
	}

	err := s.sessions.ScheduleLogout(ctx, username)
	if err != nil {
		if errors.Is(err, session.ErrNotLoggedIn) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListImages lists locally available images for the selection screen.
func (s *Service) ListImages(ctx context.Context) ([]sandbox.ImageSummary, error) {
	return s.runtime.ListImages(ctx)
}

// --- workspace file operations, all gated on an active session ---

func (s *Service) FileTree(ctx context.Context, username string) ([]workspace.Node, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.store.Tree(rec.SessionID)
}

func (s *Service) ReadFile(ctx context.Context, username, path string) (string, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return "", err
	}
	return s.store.ReadFile(rec.SessionID, path)
}

func (s *Service) SaveFile(ctx context.Context, username, path, content string) error {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.SaveFile(rec.SessionID, path, content, rec.QuotaBytes); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			monitor.QuotaRejections.Inc()
		}
		return err
	}
	return nil
}

func (s *Service) CreateEntry(ctx context.Context, username, path string, isDir bool) error {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return err
	}
	return s.store.CreateEntry(rec.SessionID, path, isDir)
}

func (s *Service) RenameEntry(ctx context.Context, username, oldPath, newPath string) error {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return err
	}
	return s.store.Rename(rec.SessionID, oldPath, newPath)
}

func (s *Service) DeleteEntry(ctx context.Context, username, path string) (bool, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return false, err
	}
	return s.store.Delete(rec.SessionID, path)
}

func (s *Service) UploadFiles(ctx context.Context, username, targetPath string, uploads []workspace.Upload) ([]string, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.SaveUploads(rec.SessionID, targetPath, uploads, rec.QuotaBytes)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			monitor.QuotaRejections.Inc()
		}
		return nil, err
	}
	return saved, nil
}

// DownloadPath resolves a file for streaming to the client.
func (s *Service) DownloadPath(ctx context.Context, username, path string) (string, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return "", err
	}
	return s.store.FilePath(rec.SessionID, path)
}

// FolderZip streams a folder as a zip. The returned name is the folder base
// name for the attachment header.
func (s *Service) FolderZip(ctx context.Context, username, folderPath string, w io.Writer) (string, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return "", err
	}
	return s.store.WriteZip(rec.SessionID, folderPath, w)
}

// Usage reports workspace consumption against the quota.
func (s *Service) Usage(ctx context.Context, username string) (*QuotaUsage, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return nil, err
	}
	quotaBytes := rec.QuotaBytes
	if quotaBytes <= 0 {
		quotaBytes = quota.DefaultBytes
	}
	return &QuotaUsage{
		Username:   rec.Username,
		UsedBytes:  s.store.Usage(rec.SessionID),
		QuotaBytes: quotaBytes,
	}, nil
}

// --- jobs ---

// ListJobs derives the user's current job list from a fresh ps snapshot.
func (s *Service) ListJobs(ctx context.Context, username string) ([]jobs.Job, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return nil, err
	}
	if rec.ContainerID == "" || !s.runtime.IsRunning(ctx, rec.ContainerID) {
		return nil, session.ErrContainerUnavailable
	}
	return s.jobs.Collect(ctx, username, rec.ContainerID)
}

// KillJob validates the target and signal, then hands delivery to the task
// queue. The HTTP response never waits for the exec.
func (s *Service) KillJob(ctx context.Context, username string, pid int, signal string) error {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return err
	}
	if rec.ContainerID == "" || !s.runtime.IsRunning(ctx, rec.ContainerID) {
		return session.ErrContainerUnavailable
	}

	name, err := s.jobs.AuthorizeKill(ctx, username, rec.ContainerID, pid, signal)
	if err != nil {
		return err
	}

	task, err := session.NewKillTask(session.KillPayload{
		ContainerID: rec.ContainerID,
		PID:         pid,
		Signal:      name,
	})
	if err != nil {
		return fmt.Errorf("failed to build kill task: %w", err)
	}
	if _, err := s.queue.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue kill task: %w", err)
	}

	s.logger.Info("kill scheduled", "username", username, "pid", pid, "signal", name)
	return nil
}

// --- terminal ---

// shellWrapper records the shell pid in the marker file before exec'ing the
// interactive shell, so the jobs engine can anchor its tree walk.
func shellWrapper(username string) []string {
	pidFile := jobs.PidFilePath(username)
	return []string{"/bin/bash", "-lc", fmt.Sprintf("echo $$ > %s; exec /bin/bash", pidFile)}
}

// OpenTerminal attaches an interactive shell in the user's container. The
// caller owns the returned stream and must Register/Deregister it.
func (s *Service) OpenTerminal(ctx context.Context, username string) (*sandbox.StreamConn, *session.Session, error) {
	rec, err := s.sessions.ActiveSessionOrFail(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if rec.ContainerID == "" || !s.runtime.IsRunning(ctx, rec.ContainerID) {
		return nil, nil, session.ErrContainerUnavailable
	}

	stream, err := s.runtime.ExecStream(ctx, rec.ContainerID, shellWrapper(username), []string{"TERM=xterm-256color"})
	if err != nil {
		return nil, nil, err
	}

	// The wrapper writes the pid file before exec; cache it off the
	// request path.
	go func() {
		if _, err := s.jobs.StoreShellPid(context.Background(), username, rec.ContainerID); err != nil {
			s.logger.Warn("failed to cache shell pid", "username", username, "error", err)
		}
	}()

	monitor.TerminalsActive.Inc()
	return stream, rec, nil
}

// CloseTerminal releases the bookkeeping for one terminal: the pid cache
// entry and the marker file inside the container.
func (s *Service) CloseTerminal(ctx context.Context, username, containerID string) {
	monitor.TerminalsActive.Dec()
	s.jobs.Forget(username, containerID)
	s.jobs.RemovePidFile(ctx, username, containerID)
}

// Terminals exposes the registry for the websocket handler.
func (s *Service) Terminals() *terminal.Registry {
	return s.terminals
}
