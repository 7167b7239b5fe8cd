package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errDialRefused = errors.New("dial refused")

// fakeConn is an in-memory Conn. Frames written by the client appear on out;
// frames pushed onto in are read by the client.
type fakeConn struct {
	target string
	in     chan []byte
	out    chan []byte

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	failNext bool
}

func newFakeConn(target string) *fakeConn {
	return &fakeConn{
		target: target,
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	if f.failNext {
		f.failNext = false
		return io.ErrShortWrite
	}
	f.out <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// serverDrop simulates the peer going away.
func (f *fakeConn) serverDrop() { _ = f.Close() }

func (f *fakeConn) push(v any) {
	data, _ := json.Marshal(v)
	f.in <- data
}

// nextFrame waits for the next frame the client wrote, skipping pings.
func (f *fakeConn) nextFrame(timeout time.Duration) (Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case data := <-f.out:
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				return Message{}, false
			}
			if m.Type == "ping" {
				continue
			}
			return m, true
		case <-deadline:
			return Message{}, false
		}
	}
}

func (f *fakeConn) next(t *testing.T) Message {
	t.Helper()
	m, ok := f.nextFrame(2 * time.Second)
	require.True(t, ok, "timed out waiting for outbound frame")
	return m
}

// fakeDialer hands out fakeConns. While refuse is set every dial fails.
type fakeDialer struct {
	mu      sync.Mutex
	refuse  bool
	targets []string
	conns   chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(_ context.Context, target string) (Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	refuse := d.refuse
	d.mu.Unlock()
	if refuse {
		return nil, errDialRefused
	}
	c := newFakeConn(target)
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setRefuse(v bool) {
	d.mu.Lock()
	d.refuse = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        80 * time.Millisecond,
		MaxJitter:         0,
		HeartbeatInterval: time.Hour,
		StaleAfter:        time.Hour,
		AckTimeout:        time.Second,
	}
}

func newTestClient(t *testing.T, target string, d Dialer, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithDialer(d), WithLogger(quietLogger()), WithConfig(fastConfig())}
	c := New(target, append(base, opts...)...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}
