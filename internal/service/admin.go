package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"workbench/internal/jobs"
	"workbench/internal/monitor"
	"workbench/internal/quota"
)

// AdminLogin checks the fleet password under the lockout policy and returns
// a stateless token.
func (s *Service) AdminLogin(ctx context.Context, password string) (string, time.Time, error) {
	return s.admin.Login(ctx, s.adminUser, password)
}

// ValidateAdminToken verifies signature and expiry of a presented token.
func (s *Service) ValidateAdminToken(token string) error {
	return s.admin.ValidateToken(token)
}

// AdminListUsers returns the raw session records.
func (s *Service) AdminListUsers(ctx context.Context) ([]UserRow, error) {
	records, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]UserRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, UserRow{
			Username:    rec.Username,
			ContainerID: rec.ContainerID,
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
			QuotaBytes:  rec.QuotaBytes,
		})
	}
	return rows, nil
}

// AdminListJobs returns one user's job list on behalf of an admin.
func (s *Service) AdminListJobs(ctx context.Context, username string) ([]jobs.Job, error) {
	return s.ListJobs(ctx, username)
}

// AdminKillJob validates and schedules a signal on behalf of an admin.
func (s *Service) AdminKillJob(ctx context.Context, username string, pid int, signal string) error {
	return s.KillJob(ctx, username, pid, signal)
}

// AdminSetQuota updates a user's quota. Values below the platform floor are
// rejected, not silently raised.
func (s *Service) AdminSetQuota(ctx context.Context, username string, quotaMB int64) (int64, error) {
	quotaBytes := quotaMB * 1024 * 1024
	if quotaBytes < quota.DefaultBytes {
		return 0, fmt.Errorf("%w: minimum is %d MB", ErrQuotaBelowFloor, quota.DefaultBytes/(1024*1024))
	}
	return s.sessions.UpdateQuota(ctx, username, quotaBytes)
}

// AdminStopUser removes a user's container, workspace and record
// synchronously. Unlike logout this is an operator action and the caller
// waits for the result.
func (s *Service) AdminStopUser(ctx context.Context, username string) error {
	rec, err := s.sessions.Resolve(ctx, username)
	if err != nil {
		return err
	}

	s.terminals.CloseAll(username)
	s.jobs.Forget(username, "")

	if rec.ContainerID != "" {
		if err := s.runtime.Stop(ctx, rec.ContainerID, s.stopSecs); err != nil {
			s.logger.Warn("admin stop: failed to stop container",
				"username", username, "container_id", rec.ContainerID, "error", err)
		}
		if err := s.runtime.Remove(ctx, rec.ContainerID); err != nil {
			s.logger.Warn("admin stop: failed to remove container",
				"username", username, "container_id", rec.ContainerID, "error", err)
		}
	}
	if err := s.store.RemoveSession(rec.SessionID); err != nil {
		s.logger.Warn("admin stop: failed to remove workspace",
			"username", username, "session_id", rec.SessionID, "error", err)
	}
	if err := s.repo.Delete(ctx, username); err != nil {
		return err
	}

	s.logger.Info("user resources removed by admin", "username", username)
	return nil
}

// AdminStats aggregates the whole fleet. Every per-user failure degrades
// that row (status "missing" or "unknown") instead of failing the report.
func (s *Service) AdminStats(ctx context.Context) (*StatsReport, error) {
	records, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &StatsReport{Users: make([]UserStats, 0, len(records))}
	var totalCPU float64
	var totalMemUsage, totalMemLimit int64

	for _, rec := range records {
		row := UserStats{
			Username:    rec.Username,
			ContainerID: rec.ContainerID,
			QuotaBytes:  rec.QuotaBytes,
			Jobs:        []jobs.Job{},
		}
		if rec.SessionID != "" {
			row.WorkspaceSize = s.store.Usage(rec.SessionID)
		}

		info, err := s.runtime.Inspect(ctx, rec.ContainerID)
		if err != nil {
			row.Status = "missing"
			report.Users = append(report.Users, row)
			continue
		}
		row.Status = info.Status

		stats, err := s.runtime.Stats(ctx, rec.ContainerID)
		if err != nil {
			row.Status = "unknown"
			report.Users = append(report.Users, row)
			continue
		}
		row.CPUPercent = round2(stats.CPUPercent)
		row.MemUsage = stats.MemUsage
		row.MemPercent = round2(stats.MemPercent)
		totalCPU += stats.CPUPercent
		totalMemUsage += stats.MemUsage
		totalMemLimit += stats.MemLimit

		if info.Running {
			if pid, err := s.jobs.EnsureShellPid(ctx, rec.Username, rec.ContainerID); err == nil {
				row.ShellPid = pid
				if jobList, err := s.jobs.Collect(ctx, rec.Username, rec.ContainerID); err == nil {
					row.Jobs = jobList
				}
			} else if !errors.Is(err, jobs.ErrNoShell) {
				s.logger.Debug("stats: shell pid lookup failed",
					"username", rec.Username, "error", err)
			}
		}
		report.Users = append(report.Users, row)
	}

	report.Overall = OverallStats{
		Containers:      len(records),
		TotalCPUPercent: round2(totalCPU),
		TotalMemUsage:   totalMemUsage,
	}
	if totalMemLimit > 0 {
		report.Overall.TotalMemPercent = round2(float64(totalMemUsage) / float64(totalMemLimit) * 100.0)
	}

	monitor.SessionsActive.Set(float64(len(records)))
	return report, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
