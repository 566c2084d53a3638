// Package observability defines logging, tracing, and metrics interfaces.
package observability

import (
	"context"
	"time"
)

// Logger provides structured logging hooks.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Span captures tracing span operations.
type Span interface {
	SetAttribute(key, value string)
	RecordError(err error)
	End()
}

// Tracer is an optional tracing dependency.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Sampler decides if a trace should be sampled.
type Sampler interface {
	Sampled(traceID string) bool
}

// Metrics records gateway measurements.
type Metrics interface {
	IncDecision(result string, class string, region string)
	IncFailOpen(region string)
	IncCircuitTransition(upstream string, from string, to string)
	IncStoreError(op string, region string)
	IncOverride(action string)
	ObserveLatency(op string, d time.Duration, region string)
}
