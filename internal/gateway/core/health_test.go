package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []TelemetryEvent
}

func (c *capturedEvents) Write(_ context.Context, event TelemetryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturedEvents) byKind(kind string) []TelemetryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TelemetryEvent, 0, len(c.events))
	for _, event := range c.events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

func TestHealthMonitor_UnknownUpstreamRejected(t *testing.T) {
	t.Parallel()

	hm := testMonitor(&UpstreamService{ID: "a"})
	if got := hm.Verdict("missing"); got != VerdictReject {
		t.Fatalf("expected reject for unknown upstream, got %v", got)
	}
	if got := hm.Verdict("a"); got != VerdictAllow {
		t.Fatalf("expected allow for fresh upstream, got %v", got)
	}

	// Samples for unregistered upstreams are ignored.
	hm.apply(Sample{Upstream: "missing", Success: false, At: time.Now()})
}

func TestHealthMonitor_TransitionEmitsEvent(t *testing.T) {
	t.Parallel()

	events := &capturedEvents{}
	hm := NewHealthMonitor([]*UpstreamService{{ID: "a"}}, CircuitOptions{
		FailureRatio:    0.5,
		MinSamples:      2,
		RecoveryTimeout: time.Minute,
	}, nil, events, nil, nil, HealthMonitorOptions{}, nil)

	failUpstream(hm, "a", time.Now())

	transitions := events.byKind(EventCircuitTransition)
	if len(transitions) != 1 {
		t.Fatalf("expected one transition event, got %d", len(transitions))
	}
	got := transitions[0]
	if got.Upstream != "a" || got.OldState != "closed" || got.NewState != "open" {
		t.Fatalf("unexpected transition event %+v", got)
	}
}

func TestHealthMonitor_StatusSnapshot(t *testing.T) {
	t.Parallel()

	hm := testMonitor(
		&UpstreamService{ID: "a"},
		&UpstreamService{ID: "b"},
	)
	failUpstream(hm, "b", time.Now())

	snapshot := hm.StatusSnapshot()
	if snapshot["a"] != "closed" || snapshot["b"] != "open" {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}
}

func TestHealthMonitor_LatencySmoothing(t *testing.T) {
	t.Parallel()

	hm := testMonitor(&UpstreamService{ID: "a"})
	now := time.Now()

	hm.apply(Sample{Upstream: "a", Success: true, Latency: 100 * time.Millisecond, At: now})
	if got := hm.Latency("a"); got != 100*time.Millisecond {
		t.Fatalf("first sample should seed the average, got %v", got)
	}

	hm.apply(Sample{Upstream: "a", Success: true, Latency: 200 * time.Millisecond, At: now})
	got := hm.Latency("a")
	if got <= 100*time.Millisecond || got >= 200*time.Millisecond {
		t.Fatalf("expected smoothed latency between samples, got %v", got)
	}

	// Failures carry no latency signal.
	hm.apply(Sample{Upstream: "a", Success: false, Latency: time.Second, At: now})
	if hm.Latency("a") != got {
		t.Fatalf("failure sample must not move the average")
	}
}

func TestHealthMonitor_DropsSamplesOnFullBuffer(t *testing.T) {
	t.Parallel()

	hm := NewHealthMonitor([]*UpstreamService{{ID: "a"}}, CircuitOptions{}, nil, nil, nil, nil, HealthMonitorOptions{SampleBuffer: 1}, nil)

	hm.Record(Sample{Upstream: "a", Success: true})
	hm.Record(Sample{Upstream: "a", Success: true})
	if got := hm.DroppedSamples(); got != 1 {
		t.Fatalf("expected 1 dropped sample, got %d", got)
	}
}

func TestHealthMonitor_ConsumesRecordedSamples(t *testing.T) {
	t.Parallel()

	hm := NewHealthMonitor([]*UpstreamService{{ID: "a"}}, CircuitOptions{
		FailureRatio:    0.5,
		MinSamples:      2,
		RecoveryTimeout: time.Minute,
	}, nil, nil, nil, nil, HealthMonitorOptions{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hm.Start(ctx)

	hm.Record(Sample{Upstream: "a", Success: false, Source: SampleSourceRequest})
	hm.Record(Sample{Upstream: "a", Success: false, Source: SampleSourceRequest})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hm.State("a") == CircuitOpen {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("breaker never opened from recorded samples")
}

type scriptedProber struct {
	success bool
	latency time.Duration
}

func (p *scriptedProber) Probe(context.Context, *UpstreamService) Sample {
	return Sample{Success: p.success, Latency: p.latency}
}

func TestHealthMonitor_ProbesOpenTheCircuit(t *testing.T) {
	t.Parallel()

	hm := NewHealthMonitor([]*UpstreamService{{ID: "a", ProbeTarget: "localhost:9000"}}, CircuitOptions{
		FailureRatio:    0.5,
		MinSamples:      2,
		RecoveryTimeout: time.Minute,
	}, &scriptedProber{success: false}, nil, nil, nil, HealthMonitorOptions{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hm.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hm.State("a") == CircuitOpen {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("breaker never opened from probe failures")
}
