package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"workbench/internal/adminauth"
	"workbench/internal/jobs"
	"workbench/internal/quota"
	"workbench/internal/sandbox"
	"workbench/internal/service"
	"workbench/internal/session"
	"workbench/internal/workspace"
)

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// respondServiceError maps domain sentinels onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	respondError(c, mapServiceError(err), err)
}

func mapServiceError(err error) int {
	var locked *adminauth.AccountLockedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrNoActiveSession):
		return http.StatusPreconditionFailed
	case errors.Is(err, session.ErrContainerUnavailable):
		return http.StatusConflict
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, workspace.ErrInvalidPath),
		errors.Is(err, workspace.ErrExists),
		errors.Is(err, jobs.ErrUnsupportedSignal),
		errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrQuotaBelowFloor):
		return http.StatusBadRequest
	case errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, jobs.ErrProcessNotManaged),
		errors.Is(err, jobs.ErrNoShell),
		errors.Is(err, sandbox.ErrImageNotFound),
		errors.Is(err, sandbox.ErrContainerNotFound):
		return http.StatusNotFound
	case errors.Is(err, adminauth.ErrInvalidToken),
		errors.Is(err, adminauth.ErrBadCredentials),
		errors.Is(err, adminauth.ErrNoAccount):
		return http.StatusUnauthorized
	case errors.As(err, &locked):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
