package sandbox

import (
	"context"
)

// Runtime is the container runtime capability surface the platform consumes.
// Everything above this interface is runtime-agnostic; the Docker
// implementation lives in runtime.go.
type Runtime interface {
	Run(ctx context.Context, opts RunOptions) (string, error)
	Inspect(ctx context.Context, containerID string) (*Info, error)
	Stop(ctx context.Context, containerID string, timeoutSeconds int) error
	Remove(ctx context.Context, containerID string) error
	ExecOutput(ctx context.Context, containerID string, cmd []string) (*ExecResult, error)
	ExecStream(ctx context.Context, containerID string, cmd []string, env []string) (*StreamConn, error)
	Stats(ctx context.Context, containerID string) (*UsageStats, error)
	ListImages(ctx context.Context) ([]ImageSummary, error)
	ListManaged(ctx context.Context) ([]ManagedContainer, error)
	IsRunning(ctx context.Context, containerID string) bool
}
