package terminal

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeClient adapts an in-memory pipe to the websocket Client surface.
type pipeClient struct {
	reader io.ReadCloser
	writer io.WriteCloser

	mu     sync.Mutex
	closed bool
}

func (c *pipeClient) ReadMessage() (int, []byte, error) {
	buf := make([]byte, 4096)
	n, err := c.reader.Read(buf)
	if err != nil {
		return 0, nil, err
	}
	return 2, buf[:n], nil
}

func (c *pipeClient) WriteMessage(_ int, data []byte) error {
	_, err := c.writer.Write(data)
	return err
}

func (c *pipeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.reader.Close()
	return c.writer.Close()
}

type pipeShell struct {
	reader io.ReadCloser
	writer io.WriteCloser

	mu     sync.Mutex
	closed bool
}

func (s *pipeShell) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *pipeShell) Write(p []byte) (int, error) { return s.writer.Write(p) }

func (s *pipeShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.reader.Close()
	return s.writer.Close()
}

// newRelayHarness wires: browser writes -> client reads -> shell, and
// shell output -> client -> browser reads.
func newRelayHarness() (browserIn io.WriteCloser, browserOut io.ReadCloser, shellIn io.ReadCloser, shellOut io.WriteCloser, relay *Relay) {
	clientReadR, clientReadW := io.Pipe()
	clientWriteR, clientWriteW := io.Pipe()
	shellReadR, shellReadW := io.Pipe()
	shellWriteR, shellWriteW := io.Pipe()

	client := &pipeClient{reader: clientReadR, writer: clientWriteW}
	shell := &pipeShell{reader: shellWriteR, writer: shellReadW}
	return clientReadW, clientWriteR, shellReadR, shellWriteW, NewRelay(client, shell, nil)
}

func TestRelayForwardsBothWays(t *testing.T) {
	browserIn, browserOut, shellIn, shellOut, relay := newRelayHarness()

	done := make(chan struct{})
	go func() {
		relay.Run()
		close(done)
	}()

	go browserIn.Write([]byte("ls -la\n"))
	buf := make([]byte, 64)
	n, err := shellIn.Read(buf)
	if err != nil || string(buf[:n]) != "ls -la\n" {
		t.Fatalf("shell received %q, %v", buf[:n], err)
	}

	go shellOut.Write([]byte("total 0\n"))
	n, err = browserOut.Read(buf)
	if err != nil || string(buf[:n]) != "total 0\n" {
		t.Fatalf("browser received %q, %v", buf[:n], err)
	}

	relay.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay goroutines did not shut down")
	}
}

func TestRelayShellEOFClosesClient(t *testing.T) {
	_, browserOut, _, shellOut, relay := newRelayHarness()

	done := make(chan struct{})
	go func() {
		relay.Run()
		close(done)
	}()

	shellOut.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after shell EOF")
	}
	if _, err := browserOut.Read(make([]byte, 1)); err == nil {
		t.Error("client side should be closed after shell EOF")
	}
}

type fakeCloser struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeCloser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeCloser) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	a, b, other := &fakeCloser{}, &fakeCloser{}, &fakeCloser{}

	r.Register("alice", a)
	r.Register("alice", b)
	r.Register("bob", other)

	if got := r.CloseAll("alice"); got != 2 {
		t.Errorf("CloseAll closed %d, want 2", got)
	}
	if !a.isClosed() || !b.isClosed() {
		t.Error("alice's terminals not closed")
	}
	if other.isClosed() {
		t.Error("bob's terminal should be untouched")
	}
}

func TestRegistryDeregister(t *testing.T) {
	r := NewRegistry()
	a := &fakeCloser{}

	r.Register("alice", a)
	r.Deregister("alice", a)
	r.Deregister("alice", a) // idempotent

	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
	if got := r.CloseAll("alice"); got != 0 {
		t.Errorf("CloseAll after deregister closed %d, want 0", got)
	}
}
