package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"workbench/internal/adminauth"
	"workbench/internal/api"
	"workbench/internal/config"
	"workbench/internal/jobs"
	"workbench/internal/monitor"
	"workbench/internal/sandbox"
	"workbench/internal/service"
	"workbench/internal/session"
	"workbench/internal/session/repo"
	"workbench/internal/session/worker"
	"workbench/internal/terminal"
	"workbench/internal/workspace"

	"github.com/hibiken/asynq"
)

type Server struct {
	cfg           *config.Config
	deps          *Dependency
	httpServer    *http.Server
	asynqServer   *asynq.Server
	asynqMux      *asynq.ServeMux
	metricsServer *monitor.Server
	reaper        *session.Reaper
	admin         *adminauth.Authenticator
	logger        *slog.Logger
}

func NewServer(cfg *config.Config, deps *Dependency) (*Server, error) {
	logger := deps.Logger

	store, err := workspace.NewStore(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}

	runtime := sandbox.NewDockerRuntime(deps.Docker, logger)
	sessionRepo := repo.NewRepository(deps.PG, deps.Redis)

	sessionMgr := session.NewManager(sessionRepo, runtime, store, deps.AsynqClient, session.Options{
		DefaultImage:       cfg.Container.DefaultImage,
		MemoryLimitBytes:   cfg.Container.MemoryMB * 1024 * 1024,
		CPULimit:           cfg.Container.CPU,
		StopTimeoutSeconds: cfg.Container.StopTimeoutSeconds,
	}, logger)

	jobMgr := jobs.NewManager(runtime, logger)
	tokens := adminauth.NewTokenIssuer(cfg.Admin.Secret, cfg.Admin.TokenTTL)
	admin := adminauth.NewAuthenticator(sessionRepo, tokens, logger)
	registry := terminal.NewRegistry()

	svc := service.New(
		sessionMgr, sessionRepo, runtime, store, jobMgr, admin, registry,
		deps.AsynqClient, cfg.Admin.Username, cfg.Container.StopTimeoutSeconds, logger)

	taskWorker := worker.New(sessionRepo, runtime, store, jobMgr, cfg.Container.StopTimeoutSeconds, logger)

	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})
	mux := asynq.NewServeMux()
	taskWorker.Register(mux)

	router := api.NewRouter(svc, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	reaper := session.NewReaper(sessionRepo, runtime,
		cfg.Reaper.Interval, cfg.Reaper.MaxAge, cfg.Container.StopTimeoutSeconds, logger)

	return &Server{
		cfg:           cfg,
		deps:          deps,
		httpServer:    httpServer,
		asynqServer:   asynqServer,
		asynqMux:      mux,
		metricsServer: monitor.NewServer(cfg.Metrics.Addr, logger),
		reaper:        reaper,
		admin:         admin,
		logger:        logger,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Admin.Password != "" {
		if err := s.admin.Seed(ctx, s.cfg.Admin.Username, s.cfg.Admin.Password); err != nil {
			return err
		}
	} else {
		s.logger.Warn("ADMIN_PASSWORD not set, admin login disabled until seeded")
	}

	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go func() {
		if err := s.metricsServer.Start(); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	go s.reaper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()

	if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Metrics server shutdown error", "error", err)
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
