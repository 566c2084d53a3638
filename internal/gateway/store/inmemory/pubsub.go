// Package inmemory provides an in-process pubsub implementation.
package inmemory

import (
	"context"
	"errors"
	"sync"
)

// PubSub delivers published payloads to in-process subscribers.
type PubSub struct {
	mu   sync.Mutex
	subs map[string]map[int]*subscription
	next int
}

type subscription struct {
	ctx     context.Context
	handler func(context.Context, []byte)
}

// NewPubSub constructs an in-memory pubsub.
func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string]map[int]*subscription)}
}

// Subscribe registers a handler for a channel until ctx is done.
func (ps *PubSub) Subscribe(ctx context.Context, channel string, handler func(context.Context, []byte)) error {
	if ps == nil {
		return errors.New("pubsub is nil")
	}
	if channel == "" {
		return errors.New("channel is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ps.mu.Lock()
	ps.next++
	id := ps.next
	if ps.subs[channel] == nil {
		ps.subs[channel] = make(map[int]*subscription)
	}
	ps.subs[channel][id] = &subscription{ctx: ctx, handler: handler}
	ps.mu.Unlock()

	go func() {
		<-ctx.Done()
		ps.remove(channel, id)
	}()

	return nil
}

// Publish delivers payloads to current subscribers.
func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if ps == nil {
		return errors.New("pubsub is nil")
	}
	if channel == "" {
		return errors.New("channel is required")
	}

	ps.mu.Lock()
	subs := ps.subs[channel]
	copySubs := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		copySubs = append(copySubs, sub)
	}
	ps.mu.Unlock()

	for _, sub := range copySubs {
		if sub == nil {
			continue
		}
		if sub.ctx != nil && sub.ctx.Err() != nil {
			continue
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		go sub.handler(sub.ctx, data)
	}

	return nil
}

func (ps *PubSub) remove(channel string, id int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	subs := ps.subs[channel]
	if subs == nil {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(ps.subs, channel)
	}
}
