package service

import (
	"workbench/internal/jobs"
)

// AuthStatus is the login-screen probe result: whether the user already has
// a running container, without starting anything.
type AuthStatus struct {
	Username     string `json:"username"`
	HasContainer bool   `json:"has_container"`
	ContainerID  string `json:"container_id,omitempty"`
}

// QuotaUsage pairs current workspace consumption with the configured limit.
type QuotaUsage struct {
	Username   string `json:"username"`
	UsedBytes  int64  `json:"used_bytes"`
	QuotaBytes int64  `json:"quota_bytes"`
}

// UserRow is one entry of the admin user listing.
type UserRow struct {
	Username    string `json:"username"`
	ContainerID string `json:"container_id"`
	CreatedAt   string `json:"created_at"`
	QuotaBytes  int64  `json:"quota_bytes"`
}

// UserStats is one user's row in the fleet view. A user whose container or
// stats cannot be read still gets a row with a degraded status, the fleet
// view never fails wholesale.
type UserStats struct {
	Username      string     `json:"username"`
	ContainerID   string     `json:"container_id"`
	Status        string     `json:"status"`
	CPUPercent    float64    `json:"cpu_percent"`
	MemUsage      int64      `json:"mem_usage"`
	MemPercent    float64    `json:"mem_percent"`
	WorkspaceSize int64      `json:"workspace_size"`
	QuotaBytes    int64      `json:"quota_bytes"`
	ShellPid      int        `json:"shell_pid,omitempty"`
	Jobs          []jobs.Job `json:"jobs"`
}

// OverallStats aggregates the running fleet.
type OverallStats struct {
	Containers      int     `json:"containers"`
	TotalCPUPercent float64 `json:"total_cpu_percent"`
	TotalMemUsage   int64   `json:"total_mem_usage"`
	TotalMemPercent float64 `json:"total_mem_percent"`
}

// StatsReport is the full admin monitoring payload.
type StatsReport struct {
	Overall OverallStats `json:"overall"`
	Users   []UserStats  `json:"users"`
}
