// Package core provides upstream health monitoring.
package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"admissiongate/internal/gateway/observability"
)

// Sample sources.
const (
	SampleSourceProbe   = "probe"
	SampleSourceRequest = "request"
)

// Sample is one observed upstream outcome.
type Sample struct {
	Upstream string
	Success  bool
	Latency  time.Duration
	Source   string
	At       time.Time
}

// Prober actively checks one upstream and reports the outcome.
type Prober interface {
	Probe(ctx context.Context, upstream *UpstreamService) Sample
}

// HealthMonitorOptions configures the monitor.
type HealthMonitorOptions struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	SampleBuffer int
	Region       string
}

// HealthMonitor owns the circuit breaker of every upstream. Two producers
// feed it: a periodic prober and the per-request outcome hook. One consumer
// goroutine applies all samples, so breakers and latency trackers are never
// written from request handlers directly.
type HealthMonitor struct {
	upstreams map[string]*UpstreamService
	breakers  map[string]*CircuitBreaker
	latencies map[string]*latencyTracker
	samples   chan Sample
	prober    Prober
	opts      HealthMonitorOptions
	events    EventWriter
	logger    observability.Logger
	metrics   observability.Metrics
	now       func() time.Time
	dropped   atomic.Int64
}

// NewHealthMonitor constructs a monitor for the given upstreams.
func NewHealthMonitor(upstreams []*UpstreamService, defaults CircuitOptions, prober Prober, events EventWriter, logger observability.Logger, metrics observability.Metrics, opts HealthMonitorOptions, now func() time.Time) *HealthMonitor {
	if now == nil {
		now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 500 * time.Millisecond
	}
	if opts.SampleBuffer <= 0 {
		opts.SampleBuffer = 1024
	}
	hm := &HealthMonitor{
		upstreams: make(map[string]*UpstreamService, len(upstreams)),
		breakers:  make(map[string]*CircuitBreaker, len(upstreams)),
		latencies: make(map[string]*latencyTracker, len(upstreams)),
		samples:   make(chan Sample, opts.SampleBuffer),
		prober:    prober,
		opts:      opts,
		events:    events,
		logger:    logger,
		metrics:   metrics,
		now:       now,
	}
	for _, upstream := range upstreams {
		if upstream == nil || upstream.ID == "" {
			continue
		}
		hm.upstreams[upstream.ID] = upstream
		breaker := NewCircuitBreaker(breakerOptions(upstream, defaults))
		hm.registerTransitionHook(upstream.ID, breaker)
		hm.breakers[upstream.ID] = breaker
		hm.latencies[upstream.ID] = &latencyTracker{}
	}
	return hm
}

// Record submits a sample without blocking. Samples are dropped when the
// buffer is full; circuit state tolerates brief gaps.
func (hm *HealthMonitor) Record(sample Sample) {
	if hm == nil {
		return
	}
	if sample.At.IsZero() {
		sample.At = hm.now()
	}
	select {
	case hm.samples <- sample:
	default:
		hm.dropped.Add(1)
	}
}

// Start runs the sample consumer and the periodic prober until ctx is done.
func (hm *HealthMonitor) Start(ctx context.Context) error {
	if hm == nil {
		return errors.New("health monitor is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go hm.consume(ctx)

	ticker := time.NewTicker(hm.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hm.probeAll(ctx)
		}
	}
}

// Verdict reports whether traffic may flow to an upstream right now.
func (hm *HealthMonitor) Verdict(upstreamID string) Verdict {
	if hm == nil {
		return VerdictAllow
	}
	breaker, ok := hm.breakers[upstreamID]
	if !ok {
		return VerdictReject
	}
	return breaker.Allow(hm.now())
}

// State returns the circuit state of an upstream.
func (hm *HealthMonitor) State(upstreamID string) CircuitState {
	if hm == nil {
		return CircuitClosed
	}
	return hm.breakers[upstreamID].State()
}

// Latency returns the observed smoothed latency of an upstream.
func (hm *HealthMonitor) Latency(upstreamID string) time.Duration {
	if hm == nil {
		return 0
	}
	tracker, ok := hm.latencies[upstreamID]
	if !ok {
		return 0
	}
	return tracker.value()
}

// Upstream returns the configuration of an upstream.
func (hm *HealthMonitor) Upstream(upstreamID string) (*UpstreamService, bool) {
	if hm == nil {
		return nil, false
	}
	upstream, ok := hm.upstreams[upstreamID]
	return upstream, ok
}

// DroppedSamples returns how many samples were discarded on a full buffer.
func (hm *HealthMonitor) DroppedSamples() int64 {
	if hm == nil {
		return 0
	}
	return hm.dropped.Load()
}

// StatusSnapshot reports the circuit state of every upstream.
func (hm *HealthMonitor) StatusSnapshot() map[string]string {
	out := make(map[string]string)
	if hm == nil {
		return out
	}
	for id, breaker := range hm.breakers {
		out[id] = breaker.State().String()
	}
	return out
}

func (hm *HealthMonitor) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-hm.samples:
			hm.apply(sample)
		}
	}
}

func (hm *HealthMonitor) apply(sample Sample) {
	breaker, ok := hm.breakers[sample.Upstream]
	if !ok {
		return
	}
	if sample.Success {
		breaker.OnSuccess(sample.At)
		if tracker, ok := hm.latencies[sample.Upstream]; ok && sample.Latency > 0 {
			tracker.observe(sample.Latency)
		}
		return
	}
	breaker.OnFailure(sample.At)
}

func (hm *HealthMonitor) probeAll(ctx context.Context) {
	if hm.prober == nil {
		return
	}
	for _, upstream := range hm.upstreams {
		if upstream.ProbeTarget == "" {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, hm.opts.ProbeTimeout)
		sample := hm.prober.Probe(probeCtx, upstream)
		cancel()
		sample.Upstream = upstream.ID
		sample.Source = SampleSourceProbe
		hm.Record(sample)
	}
}

func (hm *HealthMonitor) registerTransitionHook(upstreamID string, breaker *CircuitBreaker) {
	breaker.SetTransitionHook(func(from, to CircuitState, at time.Time) {
		if hm.metrics != nil {
			hm.metrics.IncCircuitTransition(upstreamID, from.String(), to.String())
		}
		if hm.logger != nil {
			hm.logger.Info("circuit transition", map[string]any{
				"upstream": upstreamID,
				"old":      from.String(),
				"new":      to.String(),
				"region":   hm.opts.Region,
			})
		}
		if hm.events != nil {
			event := NewTelemetryEvent(EventCircuitTransition, at)
			event.Upstream = upstreamID
			event.OldState = from.String()
			event.NewState = to.String()
			hm.events.Write(context.Background(), event)
		}
	})
}

// latencyTracker keeps an exponentially weighted moving average in nanos.
type latencyTracker struct {
	ewmaNanos atomic.Int64
}

func (t *latencyTracker) observe(d time.Duration) {
	nanos := d.Nanoseconds()
	for {
		current := t.ewmaNanos.Load()
		next := nanos
		if current > 0 {
			next = current + (nanos-current)/5
		}
		if t.ewmaNanos.CompareAndSwap(current, next) {
			return
		}
	}
}

func (t *latencyTracker) value() time.Duration {
	return time.Duration(t.ewmaNanos.Load())
}

func breakerOptions(upstream *UpstreamService, defaults CircuitOptions) CircuitOptions {
	opts := defaults
	if upstream.FailureRatio > 0 {
		opts.FailureRatio = upstream.FailureRatio
	}
	if upstream.MinSamples > 0 {
		opts.MinSamples = upstream.MinSamples
	}
	if upstream.RecoveryTimeout > 0 {
		opts.RecoveryTimeout = upstream.RecoveryTimeout
	}
	if upstream.HalfOpenProbes > 0 {
		opts.HalfOpenProbes = upstream.HalfOpenProbes
	}
	if upstream.TrickleRPS > 0 {
		opts.TrickleRPS = upstream.TrickleRPS
	}
	if upstream.TrickleBurst > 0 {
		opts.TrickleBurst = upstream.TrickleBurst
	}
	opts.CriticalPath = upstream.CriticalPath
	return opts
}
