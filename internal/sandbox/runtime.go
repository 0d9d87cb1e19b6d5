package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

var _ Runtime = (*DockerRuntime)(nil)

// DockerRuntime implements Runtime on top of the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
	logger *slog.Logger
}

func NewDockerRuntime(cli *client.Client, logger *slog.Logger) *DockerRuntime {
	return &DockerRuntime{
		client: cli,
		logger: logger.With("component", "runtime"),
	}
}

func (r *DockerRuntime) Run(ctx context.Context, opts RunOptions) (string, error) {
	l := r.logger.With(
		slog.String("username", opts.Username),
		slog.String("session_id", opts.SessionID),
	)
	l.Info("Starting workspace container", slog.String("image", opts.Image))

	// 确认 Image 存在
	_, err := r.client.ImageInspect(ctx, opts.Image)
	if errdefs.IsNotFound(err) {
		l.Info("Image not found locally, pulling...", "image", opts.Image)
		reader, pullErr := r.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("%w: %s", ErrImageNotFound, opts.Image)
		}
		defer reader.Close()

		done := make(chan struct{})
		go func() {
			_, _ = io.Copy(io.Discard, reader)
			close(done)
		}()

		select {
		case <-done:
			l.Info("Image pull completed")
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrImageNotFound, ctx.Err())
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to inspect image: %w", err)
	}

	config := &container.Config{
		Image:     opts.Image,
		Tty:       true,
		OpenStdin: true,
		Env:       opts.EnvVars,
		Labels: map[string]string{
			"managed_by": ManagedByLabel,
			"username":   opts.Username,
			"session_id": opts.SessionID,
		},
	}

	hostConfig := &container.HostConfig{
		Binds: []string{
			fmt.Sprintf("%s:%s:rw", opts.HostDir, MountPath),
		},
		Resources: container.Resources{
			Memory:   opts.MemoryLimit,
			NanoCPUs: int64(opts.CPULimit * 1e9),
		},
		AutoRemove: false,
	}

	resp, err := r.client.ContainerCreate(ctx, config, hostConfig, nil, nil, ContainerName(opts.SessionID))
	if err != nil {
		l.Error("Failed to create container", "error", err)
		return "", fmt.Errorf("%w: %v", ErrContainerStartFailed, err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.Error("Failed to start container", "error", err)
		// 启动失败时清理容器
		_ = r.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: %v", ErrContainerStartFailed, err)
	}

	l.Info("Container started", "container_id", resp.ID)
	return resp.ID, nil
}

func (r *DockerRuntime) Inspect(ctx context.Context, containerID string) (*Info, error) {
	inspect, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	return &Info{
		ID:      inspect.ID,
		Status:  string(inspect.State.Status),
		Running: inspect.State.Running,
	}, nil
}

func (r *DockerRuntime) Stop(ctx context.Context, containerID string, timeoutSeconds int) error {
	opts := container.StopOptions{
		Timeout: &timeoutSeconds,
	}
	if err := r.client.ContainerStop(ctx, containerID, opts); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	opts := container.RemoveOptions{
		Force: true,
	}
	if err := r.client.ContainerRemove(ctx, containerID, opts); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) ExecOutput(ctx context.Context, containerID string, cmd []string) (*ExecResult, error) {
	createOpts := container.ExecOptions{
		Cmd:          cmd,
		Tty:          false,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := r.client.ContainerExecCreate(ctx, containerID, createOpts)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("%w: failed to create exec: %v", ErrExecFailed, err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: false})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to attach to exec: %v", ErrExecFailed, err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	start := time.Now()

	// TTY=false 时 Docker 使用多路复用格式，stdcopy 可以解析
	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attach.Reader)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to inspect exec: %v", ErrExecFailed, err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}, nil
}

// StreamConn is a bidirectional byte stream attached to a tty exec inside a
// container. Read pulls container output, Write pushes keyboard input.
type StreamConn struct {
	hijack types.HijackedResponse
}

func (s *StreamConn) Read(p []byte) (int, error)  { return s.hijack.Reader.Read(p) }
func (s *StreamConn) Write(p []byte) (int, error) { return s.hijack.Conn.Write(p) }

func (s *StreamConn) Close() error {
	s.hijack.Close()
	return nil
}

func (r *DockerRuntime) ExecStream(ctx context.Context, containerID string, cmd []string, env []string) (*StreamConn, error) {
	createOpts := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := r.client.ContainerExecCreate(ctx, containerID, createOpts)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("%w: failed to create exec: %v", ErrExecFailed, err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to attach to exec: %v", ErrExecFailed, err)
	}

	return &StreamConn{hijack: attach}, nil
}

func (r *DockerRuntime) Stats(ctx context.Context, containerID string) (*UsageStats, error) {
	resp, err := r.client.ContainerStats(ctx, containerID, false)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to read container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode container stats: %w", err)
	}

	stats := &UsageStats{
		MemUsage: int64(raw.MemoryStats.Usage),
		MemLimit: int64(raw.MemoryStats.Limit),
	}
	if stats.MemLimit > 0 {
		stats.MemPercent = float64(stats.MemUsage) / float64(stats.MemLimit) * 100.0
	}

	// Docker 的 CPU 百分比计算公式
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	onlineCPUs := float64(raw.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	if cpuDelta > 0 && systemDelta > 0 {
		stats.CPUPercent = cpuDelta / systemDelta * onlineCPUs * 100.0
	}

	return stats, nil
}

// ListImages returns local images with a human description derived from
// common OCI / label-schema labels.
func (r *DockerRuntime) ListImages(ctx context.Context) ([]ImageSummary, error) {
	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	summaries := make([]ImageSummary, 0, len(images))
	for _, img := range images {
		tag := "<none>:<none>"
		if len(img.RepoTags) > 0 {
			tag = img.RepoTags[0]
		}
		id := img.ID
		if idx := strings.Index(id, ":"); idx >= 0 {
			id = id[idx+1:]
		}
		if len(id) > 12 {
			id = id[:12]
		}
		summaries = append(summaries, ImageSummary{
			Tag:         tag,
			ID:          id,
			SizeBytes:   img.Size,
			Description: deriveDescription(img.Labels),
			Labels:      img.Labels,
		})
	}

	// 确定性排序
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Tag < summaries[j].Tag })
	return summaries, nil
}

func deriveDescription(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	preferred := []string{
		"org.opencontainers.image.description",
		"description",
		"org.label-schema.description",
		"summary",
	}
	for _, k := range preferred {
		if v := labels[k]; v != "" {
			if len(v) > 280 {
				return v[:280]
			}
			return v
		}
	}
	titleKeys := []string{
		"org.opencontainers.image.title",
		"org.label-schema.name",
		"name",
	}
	var title string
	for _, k := range titleKeys {
		if v := labels[k]; v != "" {
			title = v
			break
		}
	}
	version := labels["org.opencontainers.image.version"]
	if version == "" {
		version = labels["version"]
	}
	if title != "" && version != "" {
		return fmt.Sprintf("%s (version %s)", title, version)
	}
	return title
}

func (r *DockerRuntime) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	args := filters.NewArgs(filters.Arg("label", "managed_by="+ManagedByLabel))
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list managed containers: %w", err)
	}

	managed := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		managed = append(managed, ManagedContainer{
			ID:        c.ID,
			Username:  c.Labels["username"],
			SessionID: c.Labels["session_id"],
			State:     string(c.State),
			CreatedAt: time.Unix(c.Created, 0),
		})
	}
	return managed, nil
}

func (r *DockerRuntime) IsRunning(ctx context.Context, containerID string) bool {
	info, err := r.Inspect(ctx, containerID)
	if err != nil {
		return false
	}
	return info.Running
}
