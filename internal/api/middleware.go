package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"workbench/internal/adminauth"
	"workbench/internal/service"
)

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		if status >= 500 {
			slog.Error("Request", attrs...)
		} else if status >= 400 {
			slog.Warn("Request", attrs...)
		} else {
			slog.Info("Request", attrs...)
		}
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Admin-Token")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func generateRequestID() string {
	return time.Now().Format("20060102150405.000000")
}

// adminToken pulls the token from the header or, for websocket clients that
// cannot set headers, the query string.
func adminToken(c *gin.Context) string {
	if token := c.GetHeader("X-Admin-Token"); token != "" {
		return token
	}
	return c.Query("token")
}

// AdminAuthMiddleware rejects requests without a valid admin token.
func AdminAuthMiddleware(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := adminToken(c)
		if token == "" {
			abortWithError(c, 401, adminauth.ErrInvalidToken)
			return
		}
		if err := svc.ValidateAdminToken(token); err != nil {
			abortWithError(c, 401, err)
			return
		}
		c.Next()
	}
}
