package sandbox

import "time"

// RunOptions describes one workspace container launch. The host workspace
// directory is bind-mounted read-write at MountPath inside the container.
type RunOptions struct {
	Username    string
	SessionID   string
	Image       string
	HostDir     string
	MemoryLimit int64
	CPULimit    float64
	EnvVars     []string
}

// Info is the subset of container inspect data the platform cares about.
type Info struct {
	ID      string
	Status  string
	Running bool
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// UsageStats is a single-shot resource sample for one container.
type UsageStats struct {
	CPUPercent float64
	MemUsage   int64
	MemLimit   int64
	MemPercent float64
}

type ImageSummary struct {
	Tag         string            `json:"tag"`
	ID          string            `json:"id"`
	SizeBytes   int64             `json:"size"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels"`
}

// ManagedContainer is one platform-labelled container as seen by the
// runtime, used by the orphan reaper.
type ManagedContainer struct {
	ID        string
	Username  string
	SessionID string
	State     string
	CreatedAt time.Time
}

// MountPath is where the session workspace appears inside every container.
const MountPath = "/app"

// ManagedByLabel marks containers owned by this platform.
const ManagedByLabel = "workbench"

func ContainerName(sessionID string) string {
	return "wb-" + sessionID
}
