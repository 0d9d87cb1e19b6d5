package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"workbench/internal/sandbox"
)

// Execer is the slice of the container runtime the job manager needs.
type Execer interface {
	ExecOutput(ctx context.Context, containerID string, cmd []string) (*sandbox.ExecResult, error)
}

var pidFileSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// PidFilePath is where the terminal shell records its pid inside the
// container. The username is sanitized so it is always a valid path segment.
func PidFilePath(username string) string {
	return "/tmp/wb_shell_" + pidFileSanitizer.ReplaceAllString(username, "_") + ".pid"
}

type shellEntry struct {
	pid         int
	pidFile     string
	containerID string
}

// Manager caches shell pids per user and produces job listings from ps
// snapshots taken inside the container.
type Manager struct {
	runtime Execer
	logger  *slog.Logger

	mu     sync.Mutex
	shells map[string]shellEntry
}

func NewManager(runtime Execer, logger *slog.Logger) *Manager {
	return &Manager{
		runtime: runtime,
		logger:  logger,
		shells:  make(map[string]shellEntry),
	}
}

// StoreShellPid waits for the terminal shell to write its pid file and caches
// the pid. Called right after a terminal attaches, the wrapper may not have
// written the file yet, so missing probes are retried here.
func (m *Manager) StoreShellPid(ctx context.Context, username, containerID string) (int, error) {
	pidFile := PidFilePath(username)
	pid, err := m.readPid(ctx, containerID, pidFile, 8, true)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.shells[username] = shellEntry{pid: pid, pidFile: pidFile, containerID: containerID}
	m.mu.Unlock()
	m.logger.Debug("shell pid cached", "username", username, "pid", pid)
	return pid, nil
}

// EnsureShellPid returns the cached shell pid for username, re-reading the
// pid file when the cache points at a different container. The rediscovery
// probe fails fast on a missing marker file, it never long-polls inside a
// request.
func (m *Manager) EnsureShellPid(ctx context.Context, username, containerID string) (int, error) {
	m.mu.Lock()
	entry, ok := m.shells[username]
	m.mu.Unlock()
	if ok && entry.containerID == containerID {
		return entry.pid, nil
	}

	pidFile := PidFilePath(username)
	pid, err := m.readPid(ctx, containerID, pidFile, 8, false)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.shells[username] = shellEntry{pid: pid, pidFile: pidFile, containerID: containerID}
	m.mu.Unlock()
	return pid, nil
}

// readPid probes the pid file up to attempts times, 100ms apart. A probe
// that finds no file ends the search immediately unless waitForFile is set;
// retries only cover exec flakes and partially written content.
func (m *Manager) readPid(ctx context.Context, containerID, pidFile string, attempts int, waitForFile bool) (int, error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		res, err := m.runtime.ExecOutput(ctx, containerID, []string{"cat", pidFile})
		if err != nil {
			return 0, fmt.Errorf("failed to read shell pid file: %w", err)
		}
		if res.ExitCode != 0 {
			if waitForFile {
				continue
			}
			return 0, ErrNoShell
		}
		pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
		if err != nil || pid <= 0 {
			continue
		}
		return pid, nil
	}
	return 0, ErrNoShell
}

// Forget drops the cached shell pid when its container goes away. A non-empty
// containerID only evicts a matching entry so a newer session's cache
// survives a stale logout.
func (m *Manager) Forget(username, containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.shells[username]
	if !ok {
		return
	}
	if containerID == "" || entry.containerID == containerID {
		delete(m.shells, username)
	}
}

// RemovePidFile deletes the marker file inside the container, used when a
// terminal disconnects. Best effort.
func (m *Manager) RemovePidFile(ctx context.Context, username, containerID string) {
	if _, err := m.runtime.ExecOutput(ctx, containerID, []string{"rm", "-f", PidFilePath(username)}); err != nil {
		m.logger.Debug("failed to remove pid file", "username", username, "error", err)
	}
}

// Snapshot runs ps inside the container and parses the result.
func (m *Manager) Snapshot(ctx context.Context, containerID string) (*Snapshot, error) {
	res, err := m.runtime.ExecOutput(ctx, containerID, SnapshotCommand)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnreadable, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: ps exited %d", ErrSnapshotUnreadable, res.ExitCode)
	}
	return ParseSnapshot(res.Stdout), nil
}

// Collect returns the user's current jobs. ErrNoShell means no terminal has
// attached yet; a shell that died since leaves an empty list instead.
func (m *Manager) Collect(ctx context.Context, username, containerID string) ([]Job, error) {
	pid, err := m.EnsureShellPid(ctx, username, containerID)
	if err != nil {
		return nil, err
	}
	snap, err := m.Snapshot(ctx, containerID)
	if err != nil {
		return nil, err
	}
	return snap.JobsFor(pid), nil
}

// AuthorizeKill validates the signal and confirms pid is in the freshly
// derived job list. Returns the canonical signal name for the kill dispatch.
func (m *Manager) AuthorizeKill(ctx context.Context, username, containerID string, pid int, signal string) (string, error) {
	name, err := NormalizeSignal(signal)
	if err != nil {
		return "", err
	}
	current, err := m.Collect(ctx, username, containerID)
	if err != nil {
		return "", err
	}
	for _, job := range current {
		if job.PID == pid {
			return name, nil
		}
	}
	return "", ErrProcessNotManaged
}
