package app

import (
	"context"
	"sync"
)

// InFlight counts admissions in progress so shutdown can drain them before
// the transports stop. Once Close is called, Begin refuses new work.
type InFlight struct {
	mu       sync.Mutex
	active   int64
	draining bool
	done     chan struct{}
}

// NewInFlight constructs an in-flight tracker.
func NewInFlight() *InFlight {
	return &InFlight{done: make(chan struct{})}
}

// Begin registers one admission. It reports false once draining has begun.
func (f *InFlight) Begin() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return false
	}
	f.active++
	return true
}

// End marks one admission finished.
func (f *InFlight) End() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active > 0 {
		f.active--
	}
	if f.draining && f.active == 0 {
		f.signalDrained()
	}
}

// Close starts the drain. New admissions are refused from this point on.
func (f *InFlight) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draining {
		return
	}
	f.draining = true
	if f.active == 0 {
		f.signalDrained()
	}
}

// Wait blocks until every admission begun before Close has ended, or until
// ctx expires.
func (f *InFlight) Wait(ctx context.Context) error {
	if f == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalDrained closes the done channel exactly once. Callers hold f.mu.
func (f *InFlight) signalDrained() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}
