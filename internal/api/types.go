package api

import "time"

type AuthRequest struct {
	Username string `json:"username" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
}

type StartContainerRequest struct {
	Username string `json:"username" binding:"required"`
	Image    string `json:"image" binding:"required"`
}

type LogoutRequest struct {
	Username string `json:"username" binding:"required"`
}

type SessionResponse struct {
	Message     string `json:"message"`
	Username    string `json:"username"`
	ContainerID string `json:"container_id"`
	SessionID   string `json:"session_id"`
	Image       string `json:"image,omitempty"`
}

type SaveFileRequest struct {
	Username string `json:"username" binding:"required"`
	Filename string `json:"filename" binding:"required"`
	Code     string `json:"code"`
}

type CreateFileRequest struct {
	Username string `json:"username" binding:"required"`
	Filepath string `json:"filepath" binding:"required"`
	FileType string `json:"file_type" binding:"required,oneof=file folder"`
}

type RenameFileRequest struct {
	Username string `json:"username" binding:"required"`
	OldPath  string `json:"old_path" binding:"required"`
	NewPath  string `json:"new_path" binding:"required"`
}

type DeleteFileRequest struct {
	Username string `json:"username" binding:"required"`
	Filepath string `json:"filepath" binding:"required"`
}

type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type AdminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type AdminKillJobRequest struct {
	Username string `json:"username" binding:"required"`
	PID      int    `json:"pid" binding:"required"`
	Signal   string `json:"signal"`
}

type AdminSetQuotaRequest struct {
	Username string `json:"username" binding:"required"`
	QuotaMB  int64  `json:"quota_mb" binding:"required"`
}

type AdminStopUserRequest struct {
	Username string `json:"username" binding:"required"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
