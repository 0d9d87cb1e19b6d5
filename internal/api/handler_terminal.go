package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"workbench/internal/service"
	"workbench/internal/terminal"
)

type TerminalHandler struct {
	svc      *service.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewTerminalHandler(svc *service.Service, logger *slog.Logger) *TerminalHandler {
	return &TerminalHandler{
		svc:    svc,
		logger: logger.With("component", "terminal-api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

// Connect upgrades to a websocket and attaches an interactive shell in the
// user's container. The relay blocks until either side disconnects.
func (h *TerminalHandler) Connect(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		respondError(c, http.StatusBadRequest, service.ErrInvalidUsername)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("terminal upgrade failed", "username", username, "error", err)
		return
	}

	stream, rec, err := h.svc.OpenTerminal(c.Request.Context(), username)
	if err != nil {
		h.logger.Warn("terminal attach failed", "username", username, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	relay := terminal.NewRelay(conn, stream, h.logger)
	h.svc.Terminals().Register(username, relay)
	h.logger.Info("terminal attached", "username", username, "container_id", rec.ContainerID)

	relay.Run()

	h.svc.Terminals().Deregister(username, relay)
	// Bookkeeping teardown must not be tied to the request context, the
	// client is already gone.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.svc.CloseTerminal(cleanupCtx, username, rec.ContainerID)
	h.logger.Info("terminal detached", "username", username)
}
