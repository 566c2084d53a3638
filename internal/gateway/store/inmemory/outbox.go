// Package inmemory provides in-memory outbox storage.
package inmemory

import (
	"context"
	"errors"
	"sync"

	"admissiongate/internal/gateway/core"
)

// Outbox stores telemetry outbox rows in memory.
type Outbox struct {
	mu      sync.Mutex
	entries []outboxEntry
	counter int64
}

type outboxEntry struct {
	row  core.OutboxRow
	sent bool
}

// NewOutbox constructs an in-memory outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Append appends an outbox row.
func (o *Outbox) Append(ctx context.Context, data []byte) error {
	if o == nil {
		return errors.New("outbox is nil")
	}
	rowData := make([]byte, len(data))
	copy(rowData, data)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.counter++
	o.entries = append(o.entries, outboxEntry{row: core.OutboxRow{ID: o.counter, Data: rowData}})
	return nil
}

// FetchPending returns the oldest pending rows.
func (o *Outbox) FetchPending(ctx context.Context, limit int) ([]*core.OutboxRow, error) {
	if o == nil {
		return nil, errors.New("outbox is nil")
	}
	if limit <= 0 {
		return []*core.OutboxRow{}, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	rows := make([]*core.OutboxRow, 0, limit)
	for i := range o.entries {
		if o.entries[i].sent {
			continue
		}
		row := o.entries[i].row
		rows = append(rows, &row)
		if len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// MarkSent marks a row as sent.
func (o *Outbox) MarkSent(ctx context.Context, id int64) error {
	if o == nil {
		return errors.New("outbox is nil")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].row.ID == id {
			o.entries[i].sent = true
			return nil
		}
	}
	return errors.New("outbox row not found")
}
