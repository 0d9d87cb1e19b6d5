package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"workbench/internal/service"
)

type AdminHandler struct {
	svc      *service.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewAdminHandler(svc *service.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logger.With("component", "admin-api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Login exchanges the fleet password for a token.
func (h *AdminHandler) Login(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	token, expiresAt, err := h.svc.AdminLogin(c.Request.Context(), req.Password)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, AdminLoginResponse{
		Token:     token,
		ExpiresAt: formatTime(expiresAt),
	})
}

// Stats returns a one-shot fleet report.
func (h *AdminHandler) Stats(c *gin.Context) {
	report, err := h.svc.AdminStats(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// closeUnauthorized is the websocket close code for a rejected or expired
// admin token.
const closeUnauthorized = 4401

// StatsStream pushes the fleet report every two seconds. The token is
// re-validated on every tick, expiry mid-stream closes the socket.
func (h *AdminHandler) StatsStream(c *gin.Context) {
	token := adminToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stats websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := h.svc.ValidateAdminToken(token); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeUnauthorized, "unauthorized"),
			time.Now().Add(time.Second))
		return
	}

	// Drain client frames so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		if err := h.svc.ValidateAdminToken(token); err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeUnauthorized, "token expired"),
				time.Now().Add(time.Second))
			return
		}

		report, err := h.svc.AdminStats(c.Request.Context())
		if err != nil {
			h.logger.Error("stats gather failed", "error", err)
			_ = conn.WriteJSON(gin.H{"error": "stats_error", "detail": err.Error()})
		} else if err := conn.WriteJSON(report); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// ListUsers returns the raw session records.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	rows, err := h.svc.AdminListUsers(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": rows})
}

// ListJobs returns one user's derived job list.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		respondError(c, http.StatusBadRequest, fmt.Errorf("username query parameter is required"))
		return
	}

	jobList, err := h.svc.AdminListJobs(c.Request.Context(), username)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "jobs": jobList})
}

// KillJob validates and schedules a signal.
func (h *AdminHandler) KillJob(c *gin.Context) {
	var req AdminKillJobRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if req.Signal == "" {
		req.Signal = "TERM"
	}

	if err := h.svc.AdminKillJob(c.Request.Context(), req.Username, req.PID, req.Signal); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Signal %s scheduled for pid %d", req.Signal, req.PID),
	})
}

// SetQuota updates a user's quota in megabytes, clamped to the floor.
func (h *AdminHandler) SetQuota(c *gin.Context) {
	var req AdminSetQuotaRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	applied, err := h.svc.AdminSetQuota(c.Request.Context(), req.Username, req.QuotaMB)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     fmt.Sprintf("Quota updated for %s", req.Username),
		"quota_bytes": applied,
	})
}

// StopUser removes a user's container, workspace and record.
func (h *AdminHandler) StopUser(c *gin.Context) {
	var req AdminStopUserRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.svc.AdminStopUser(c.Request.Context(), req.Username); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("User %s resources removed", req.Username),
	})
}
