package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/todorgrigorov/baby-cam/internal/metrics"
)

func TestMonitor_EvictsOnlyStaleEndpoints(t *testing.T) {
	clock := newManualClock()
	h, m := newTestHub(clock)
	mon := NewMonitor(h, 15*time.Second, 45*time.Second)

	trL, trV1, trV2 := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	h.Connect(trL)
	v1 := h.Connect(trV1)
	h.Connect(trV2)

	clock.Advance(30 * time.Second)
	h.HandleMessage(v1, []byte(`{"type":"ping","ts":1}`))
	clock.Advance(20 * time.Second)

	evicted := mon.Sweep(clock.Now())
	if evicted != 2 {
		t.Fatalf("evicted=%d, want 2", evicted)
	}
	if trL.Open() || trV2.Open() {
		t.Fatalf("expected silent endpoints to be closed")
	}
	if !trV1.Open() {
		t.Fatalf("expected recently active endpoint to stay open")
	}
	if h.Registry().Leader() != v1 {
		t.Fatalf("expected the surviving viewer to be promoted")
	}
	if got := trV1.roles(t); len(got) != 2 || got[1] != RoleLeader {
		t.Fatalf("survivor roles=%v, want [viewer leader]", got)
	}
	if m.Get(metrics.StaleEvicted) != 2 {
		t.Fatalf("StaleEvicted=%d, want 2", m.Get(metrics.StaleEvicted))
	}
}

func TestMonitor_ThresholdIsExclusive(t *testing.T) {
	clock := newManualClock()
	h, _ := newTestHub(clock)
	mon := NewMonitor(h, time.Second, 3*time.Second)

	tr := &fakeTransport{}
	h.Connect(tr)

	clock.Advance(3 * time.Second)
	if n := mon.Sweep(clock.Now()); n != 0 {
		t.Fatalf("evicted=%d at exactly the threshold, want 0", n)
	}
	clock.Advance(time.Millisecond)
	if n := mon.Sweep(clock.Now()); n != 1 {
		t.Fatalf("evicted=%d past the threshold, want 1", n)
	}
}

func TestMonitor_AlreadyClosedEndpointIsUnregistered(t *testing.T) {
	clock := newManualClock()
	h, m := newTestHub(clock)
	mon := NewMonitor(h, time.Second, 3*time.Second)

	tr := &fakeTransport{}
	h.Connect(tr)
	tr.markClosed()

	clock.Advance(5 * time.Second)
	if n := mon.Sweep(clock.Now()); n != 0 {
		t.Fatalf("evicted=%d, want closed endpoint not counted as eviction", n)
	}
	if h.Registry().Leader() != nil {
		t.Fatalf("expected closed endpoint to be unregistered")
	}
	if m.Get(metrics.StaleEvicted) != 0 {
		t.Fatalf("StaleEvicted=%d, want 0", m.Get(metrics.StaleEvicted))
	}
}

func TestMonitor_DefaultsForNonPositiveDurations(t *testing.T) {
	h, _ := newTestHub(nil)
	mon := NewMonitor(h, 0, -time.Second)
	if mon.period != DefaultHeartbeatPeriod || mon.threshold != DefaultStaleThreshold {
		t.Fatalf("period=%v threshold=%v", mon.period, mon.threshold)
	}
	if DefaultStaleThreshold != 45*time.Second {
		t.Fatalf("DefaultStaleThreshold=%v, want 45s", DefaultStaleThreshold)
	}
}

func TestMonitor_RunSweepsUntilCanceled(t *testing.T) {
	h, _ := newTestHub(nil)
	mon := NewMonitor(h, 10*time.Millisecond, 20*time.Millisecond)

	tr := &fakeTransport{}
	h.Connect(tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tr.Open() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.Open() {
		t.Fatalf("expected Run to evict the silent endpoint")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestMonitor_DoesNotCountEndpointsTheReaderAlreadyRemoved(t *testing.T) {
	clock := newManualClock()
	h, m := newTestHub(clock)
	mon := NewMonitor(h, time.Second, 3*time.Second)

	tr := &fakeTransport{}
	ep := h.Connect(tr)
	// Closing the transport ends its read loop, which unregisters the
	// endpoint before the sweep gets to it.
	tr.setHooks(nil, func() { h.Disconnect(ep) })

	clock.Advance(4 * time.Second)
	if n := mon.Sweep(clock.Now()); n != 0 {
		t.Fatalf("evicted=%d, want 0", n)
	}
	if got := m.Get(metrics.StaleEvicted); got != 0 {
		t.Fatalf("StaleEvicted=%d, want 0", got)
	}
	if got := m.Get(metrics.Disconnects); got != 1 {
		t.Fatalf("Disconnects=%d, want 1", got)
	}
	if h.Registry().Stats().Leader {
		t.Fatalf("expected the endpoint to be gone")
	}
}
