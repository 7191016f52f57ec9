package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/todorgrigorov/baby-cam/internal/metrics"
)

// fakeTransport records every frame sent to it.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	closes  int
	sendErr error

	// onOpen and onClose run outside mu, so they may call back into the hub.
	onOpen  func()
	onClose func()
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.closes++
	hook := t.onClose
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (t *fakeTransport) Open() bool {
	t.mu.Lock()
	hook := t.onOpen
	open := !t.closed
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	return open
}

func (t *fakeTransport) setHooks(onOpen, onClose func()) {
	t.mu.Lock()
	t.onOpen, t.onClose = onOpen, onClose
	t.mu.Unlock()
}

func (t *fakeTransport) failSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// markClosed flips the transport to closed without counting a Close call,
// like a peer that has gone away before the hub noticed.
func (t *fakeTransport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *fakeTransport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

func (t *fakeTransport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// roles decodes every role announcement the transport received, in order.
func (t *fakeTransport) roles(tb testing.TB) []Role {
	tb.Helper()
	var out []Role
	for _, f := range t.Frames() {
		var msg struct {
			Type MessageType `json:"type"`
		}
		if err := json.Unmarshal(f, &msg); err != nil {
			tb.Fatalf("decode frame %q: %v", f, err)
		}
		if msg.Type != MessageTypeRole {
			continue
		}
		var rm RoleMessage
		if err := json.Unmarshal(f, &rm); err != nil {
			tb.Fatalf("decode role %q: %v", f, err)
		}
		out = append(out, rm.Role)
	}
	return out
}

// framesOfType returns the frames whose envelope type is t.
func (t *fakeTransport) framesOfType(typ MessageType) [][]byte {
	var out [][]byte
	for _, f := range t.Frames() {
		env, err := parseEnvelope(f)
		if err == nil && env.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// manualClock is a settable time source for deterministic liveness tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHub(clock *manualClock) (*Hub, *metrics.Metrics) {
	m := metrics.New()
	cfg := HubConfig{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
	}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return NewHub(cfg), m
}

var errBrokenPipe = errors.New("broken pipe")
