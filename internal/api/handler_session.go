package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"workbench/internal/service"
)

type SessionHandler struct {
	svc *service.Service
}

func NewSessionHandler(svc *service.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// Auth reports session presence without starting anything.
func (h *SessionHandler) Auth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	status, err := h.svc.Auth(c.Request.Context(), req.Username)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("User %s authenticated", status.Username),
		"username":      status.Username,
		"has_container": status.HasContainer,
		"container_id":  status.ContainerID,
	})
}

// Login starts or resumes a container with the recorded image.
func (h *SessionHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	rec, err := h.svc.Login(c.Request.Context(), req.Username)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{
		Message:     fmt.Sprintf("Container started for %s", rec.Username),
		Username:    rec.Username,
		ContainerID: rec.ContainerID,
		SessionID:   rec.SessionID,
		Image:       rec.Image,
	})
}

// StartContainer starts or replaces a container with the chosen image.
func (h *SessionHandler) StartContainer(c *gin.Context) {
	var req StartContainerRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	rec, err := h.svc.StartContainer(c.Request.Context(), req.Username, req.Image)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{
		Message:     fmt.Sprintf("Container started for %s using %s", rec.Username, rec.Image),
		Username:    rec.Username,
		ContainerID: rec.ContainerID,
		SessionID:   rec.SessionID,
		Image:       rec.Image,
	})
}

// Logout schedules session teardown. Idempotent.
func (h *SessionHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	cleaned, err := h.svc.Logout(c.Request.Context(), req.Username)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	msg := "No active session"
	if cleaned {
		msg = fmt.Sprintf("Logout scheduled for %s", req.Username)
	}
	c.JSON(http.StatusOK, MessageResponse{Message: msg})
}

// ListImages lists local images for the selection screen.
func (h *SessionHandler) ListImages(c *gin.Context) {
	images, err := h.svc.ListImages(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

// QuotaUsage reports workspace consumption against the quota.
func (h *SessionHandler) QuotaUsage(c *gin.Context) {
	usage, err := h.svc.Usage(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
