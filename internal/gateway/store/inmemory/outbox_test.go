package inmemory

import (
	"context"
	"testing"
)

func TestOutbox_AppendFetchMark(t *testing.T) {
	t.Parallel()

	outbox := NewOutbox()
	ctx := context.Background()

	payloads := []string{"one", "two", "three"}
	for _, p := range payloads {
		if err := outbox.Append(ctx, []byte(p)); err != nil {
			t.Fatalf("append %q: %v", p, err)
		}
	}

	rows, err := outbox.FetchPending(ctx, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 || string(rows[0].Data) != "one" || string(rows[1].Data) != "two" {
		t.Fatalf("expected the two oldest rows, got %v", rows)
	}

	if err := outbox.MarkSent(ctx, rows[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	rows, err = outbox.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch after mark: %v", err)
	}
	if len(rows) != 2 || string(rows[0].Data) != "two" {
		t.Fatalf("sent row must not be refetched, got %v", rows)
	}

	if err := outbox.MarkSent(ctx, 999); err == nil {
		t.Fatalf("expected error for unknown row")
	}
}

func TestOutbox_AppendCopiesPayload(t *testing.T) {
	t.Parallel()

	outbox := NewOutbox()
	ctx := context.Background()

	payload := []byte("original")
	if err := outbox.Append(ctx, payload); err != nil {
		t.Fatalf("append: %v", err)
	}
	payload[0] = 'X'

	rows, err := outbox.FetchPending(ctx, 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(rows[0].Data) != "original" {
		t.Fatalf("outbox must not alias the caller's buffer, got %q", rows[0].Data)
	}
}
