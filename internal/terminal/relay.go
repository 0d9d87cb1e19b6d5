// Package terminal bridges browser websockets to interactive shells running
// inside containers, and tracks open terminals per user so a logout can tear
// them down.
package terminal

import (
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is the websocket surface the relay uses. *websocket.Conn satisfies
// it; tests substitute a fake.
type Client interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Relay pumps bytes between a websocket client and a container shell stream
// until either side closes. Closing the relay closes both ends.
type Relay struct {
	client Client
	shell  io.ReadWriteCloser
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewRelay(client Client, shell io.ReadWriteCloser, logger *slog.Logger) *Relay {
	return &Relay{
		client: client,
		shell:  shell,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run blocks until the session ends. Both pump goroutines are joined before
// return, nothing leaks past the call.
func (r *Relay) Run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer r.Close()
		r.pumpToShell()
	}()
	go func() {
		defer wg.Done()
		defer r.Close()
		r.pumpToClient()
	}()

	wg.Wait()
}

func (r *Relay) pumpToShell() {
	for {
		_, data, err := r.client.ReadMessage()
		if err != nil {
			return
		}
		if _, err := r.shell.Write(data); err != nil {
			return
		}
	}
}

func (r *Relay) pumpToClient() {
	buf := make([]byte, 4096)
	for {
		n, err := r.shell.Read(buf)
		if n > 0 {
			if werr := r.client.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close tears down both ends. Safe to call from any goroutine, repeatedly.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		if err := r.shell.Close(); err != nil && r.logger != nil {
			r.logger.Debug("failed to close shell stream", "error", err)
		}
		if err := r.client.Close(); err != nil && r.logger != nil {
			r.logger.Debug("failed to close websocket", "error", err)
		}
	})
	return nil
}

// Done is closed once the relay has shut down.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}
