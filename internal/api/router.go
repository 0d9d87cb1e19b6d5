package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"workbench/internal/service"
)

func NewRouter(svc *service.Service, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: formatTime(time.Now()),
		})
	})

	sessionHandler := NewSessionHandler(svc)
	workspaceHandler := NewWorkspaceHandler(svc)
	adminHandler := NewAdminHandler(svc, logger)
	terminalHandler := NewTerminalHandler(svc, logger)

	// Session lifecycle
	r.POST("/auth", sessionHandler.Auth)
	r.POST("/login", sessionHandler.Login)
	r.GET("/images", sessionHandler.ListImages)
	r.POST("/start-container", sessionHandler.StartContainer)
	r.POST("/logout", sessionHandler.Logout)
	r.GET("/quota-usage/:username", sessionHandler.QuotaUsage)

	// Workspace files
	r.GET("/files/:username", workspaceHandler.ListFiles)
	r.GET("/read-file/:username", workspaceHandler.ReadFile)
	r.POST("/save-file", workspaceHandler.SaveFile)
	r.POST("/create-file", workspaceHandler.CreateFile)
	r.POST("/rename-file", workspaceHandler.RenameFile)
	r.POST("/delete-file", workspaceHandler.DeleteFile)
	r.POST("/upload-files", workspaceHandler.UploadFiles)
	r.GET("/download-file/:username", workspaceHandler.DownloadFile)
	r.GET("/download-folder/:username", workspaceHandler.DownloadFolder)

	// Terminal
	r.GET("/ws/terminal", terminalHandler.Connect)

	// Admin plane
	r.POST("/admin/login", adminHandler.Login)
	// The stats stream validates its token itself so it can close with a
	// websocket code instead of an HTTP 401.
	r.GET("/admin/ws/stats", adminHandler.StatsStream)

	admin := r.Group("/admin", AdminAuthMiddleware(svc))
	{
		admin.GET("/stats", adminHandler.Stats)
		admin.GET("/list-users", adminHandler.ListUsers)
		admin.GET("/jobs", adminHandler.ListJobs)
		admin.POST("/kill-job", adminHandler.KillJob)
		admin.POST("/set-quota", adminHandler.SetQuota)
		admin.POST("/stop-user", adminHandler.StopUser)
	}

	return r
}
