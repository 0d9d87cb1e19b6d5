// Package session owns the session/container lifecycle: one record per user,
// one container per record, reconciled through an explicit task queue so no
// request handler ever blocks on container teardown.
package session

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Session is one user's current workspace generation. SessionID names the
// workspace directory and rotates whenever a new generation replaces an old
// one; ContainerID tracks the generation's container.
type Session struct {
	Username    string    `json:"username"`
	ContainerID string    `json:"container_id"`
	SessionID   string    `json:"session_id"`
	Image       string    `json:"image"`
	QuotaBytes  int64     `json:"quota_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task type names routed through asynq.
const (
	TaskSessionCleanup = "session:cleanup"
	TaskWorkspaceSweep = "workspace:sweep"
	TaskKillDispatch   = "job:kill"
)

// CleanupPayload carries the values captured at logout time. The handler
// fences on SessionID so a session started after the logout survives.
type CleanupPayload struct {
	Username    string `json:"username"`
	ContainerID string `json:"container_id"`
	SessionID   string `json:"session_id"`
}

// SweepPayload reclaims a superseded workspace directory.
type SweepPayload struct {
	SessionID string `json:"session_id"`
}

// KillPayload delivers a validated signal to a process in a container.
type KillPayload struct {
	ContainerID string `json:"container_id"`
	PID         int    `json:"pid"`
	Signal      string `json:"signal"`
}

// NewCleanupTask builds the asynq task for a captured logout.
func NewCleanupTask(p CleanupPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionCleanup, payload), nil
}

// NewSweepTask builds the asynq task reclaiming a superseded directory.
func NewSweepTask(p SweepPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkspaceSweep, payload), nil
}

// NewKillTask builds the asynq task dispatching a signal.
func NewKillTask(p KillPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskKillDispatch, payload), nil
}
