// Package core defines telemetry events and the outbox contract.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Telemetry event kinds.
const (
	EventCircuitTransition = "circuit_transition"
	EventFailOpen          = "fail_open"
	EventFailClosed        = "fail_closed"
	EventOverrideCreated   = "override_created"
	EventOverrideExpired   = "override_expired"
)

// TelemetryEvent is one observability record produced by the gateway.
type TelemetryEvent struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Upstream    string    `json:"upstream,omitempty"`
	PrincipalID string    `json:"principalID,omitempty"`
	OldState    string    `json:"oldState,omitempty"`
	NewState    string    `json:"newState,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// NewTelemetryEvent constructs an event with a fresh ID.
func NewTelemetryEvent(kind string, at time.Time) TelemetryEvent {
	return TelemetryEvent{ID: uuid.NewString(), Kind: kind, At: at}
}

// OutboxRow is a pending outbox record.
type OutboxRow struct {
	ID   int64
	Data []byte
}

// Outbox buffers telemetry events until published.
type Outbox interface {
	Append(ctx context.Context, data []byte) error
	FetchPending(ctx context.Context, limit int) ([]*OutboxRow, error)
	MarkSent(ctx context.Context, id int64) error
}

// Publisher delivers event payloads to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// EventWriter appends telemetry events. Implemented by EventLog.
type EventWriter interface {
	Write(ctx context.Context, event TelemetryEvent)
}

// EventLog serializes telemetry events into an outbox.
type EventLog struct {
	outbox Outbox
}

// NewEventLog constructs an event log over an outbox.
func NewEventLog(outbox Outbox) *EventLog {
	return &EventLog{outbox: outbox}
}

// Write appends one event. Serialization failures are dropped silently; the
// outbox is best-effort telemetry, never on the decision path.
func (l *EventLog) Write(ctx context.Context, event TelemetryEvent) {
	if l == nil || l.outbox == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = l.outbox.Append(ctx, data)
}

// EventPublisher drains the outbox to a publisher on an interval.
type EventPublisher struct {
	Outbox   Outbox
	Pub      Publisher
	Channel  string
	Interval time.Duration
}

// Start begins the publishing loop.
func (p *EventPublisher) Start(ctx context.Context) error {
	if p == nil || p.Outbox == nil || p.Pub == nil {
		return errors.New("event publisher is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	channel := p.Channel
	if channel == "" {
		channel = "gateway_telemetry"
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rows, err := p.Outbox.FetchPending(ctx, 100)
			if err != nil {
				continue
			}
			for _, row := range rows {
				if err := p.Pub.Publish(ctx, channel, row.Data); err != nil {
					continue
				}
				_ = p.Outbox.MarkSent(ctx, row.ID)
			}
		}
	}
}
