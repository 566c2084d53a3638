// Package core provides the per-upstream circuit breaker.
package core

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CircuitState represents breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the state label.
func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Verdict is the breaker's answer for one admission attempt.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictProbe
	VerdictTrickle
	VerdictReject
)

// CircuitOptions configures breaker thresholds.
type CircuitOptions struct {
	FailureRatio    float64
	MinSamples      int64
	RecoveryTimeout time.Duration
	HalfOpenProbes  int64
	WindowBuckets   int
	BucketLength    time.Duration
	CriticalPath    bool
	TrickleRPS      float64
	TrickleBurst    int
}

type circuitBucket struct {
	stamp     int64
	successes int64
	failures  int64
}

// CircuitBreaker tracks success and failure samples over a rolling window
// and controls access to one upstream. A critical-path breaker never fully
// blocks traffic: while open it admits a metered trickle instead.
type CircuitBreaker struct {
	opts CircuitOptions

	mu             sync.Mutex
	state          CircuitState
	buckets        []circuitBucket
	openUntil      time.Time
	probesGranted  int64
	probeSuccesses int64
	trickle        *rate.Limiter
	onTransition   func(from, to CircuitState, at time.Time)
}

// NewCircuitBreaker constructs a breaker with defaults.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	if opts.FailureRatio <= 0 || opts.FailureRatio > 1 {
		opts.FailureRatio = 0.5
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = time.Second
	}
	if opts.HalfOpenProbes <= 0 {
		opts.HalfOpenProbes = 3
	}
	if opts.WindowBuckets <= 0 {
		opts.WindowBuckets = 10
	}
	if opts.BucketLength <= 0 {
		opts.BucketLength = time.Second
	}
	if opts.TrickleRPS <= 0 {
		opts.TrickleRPS = 1
	}
	if opts.TrickleBurst <= 0 {
		opts.TrickleBurst = 1
	}
	cb := &CircuitBreaker{
		opts:    opts,
		state:   CircuitClosed,
		buckets: make([]circuitBucket, opts.WindowBuckets),
	}
	if opts.CriticalPath {
		cb.trickle = rate.NewLimiter(rate.Limit(opts.TrickleRPS), opts.TrickleBurst)
	}
	return cb
}

// SetTransitionHook registers a callback invoked on every state change.
func (cb *CircuitBreaker) SetTransitionHook(fn func(from, to CircuitState, at time.Time)) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	cb.onTransition = fn
	cb.mu.Unlock()
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a request may proceed at the given time.
func (cb *CircuitBreaker) Allow(now time.Time) Verdict {
	if cb == nil {
		return VerdictAllow
	}
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	switch cb.state {
	case CircuitClosed:
		return VerdictAllow
	case CircuitOpen:
		if !now.Before(cb.openUntil) {
			transition = cb.setStateLocked(CircuitHalfOpen, now)
			cb.probesGranted = 1
			cb.probeSuccesses = 0
			return VerdictProbe
		}
		if cb.trickle != nil && cb.trickle.AllowN(now, 1) {
			return VerdictTrickle
		}
		return VerdictReject
	case CircuitHalfOpen:
		if cb.probesGranted < cb.opts.HalfOpenProbes {
			cb.probesGranted++
			return VerdictProbe
		}
		if cb.trickle != nil && cb.trickle.AllowN(now, 1) {
			return VerdictTrickle
		}
		return VerdictReject
	default:
		return VerdictAllow
	}
}

// OnSuccess records a successful call outcome.
func (cb *CircuitBreaker) OnSuccess(now time.Time) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	switch cb.state {
	case CircuitHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.opts.HalfOpenProbes {
			transition = cb.setStateLocked(CircuitClosed, now)
			cb.resetWindowLocked()
		}
	case CircuitClosed:
		cb.bucketFor(now).successes++
	}
}

// OnFailure records a failed call outcome and updates state. A single probe
// failure while half-open reopens the breaker.
func (cb *CircuitBreaker) OnFailure(now time.Time) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	switch cb.state {
	case CircuitHalfOpen:
		cb.openUntil = now.Add(cb.opts.RecoveryTimeout)
		transition = cb.setStateLocked(CircuitOpen, now)
	case CircuitClosed:
		cb.bucketFor(now).failures++
		successes, failures := cb.windowTotalsLocked(now)
		total := successes + failures
		if total >= cb.opts.MinSamples && float64(failures)/float64(total) >= cb.opts.FailureRatio {
			cb.openUntil = now.Add(cb.opts.RecoveryTimeout)
			transition = cb.setStateLocked(CircuitOpen, now)
		}
	}
}

// setStateLocked changes state and returns the transition callback to run
// after the lock is released.
func (cb *CircuitBreaker) setStateLocked(to CircuitState, at time.Time) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	hook := cb.onTransition
	if hook == nil {
		return nil
	}
	return func() { hook(from, to, at) }
}

func (cb *CircuitBreaker) bucketFor(now time.Time) *circuitBucket {
	stamp := now.UnixNano() / int64(cb.opts.BucketLength)
	idx := int(stamp % int64(len(cb.buckets)))
	if idx < 0 {
		idx += len(cb.buckets)
	}
	bucket := &cb.buckets[idx]
	if bucket.stamp != stamp {
		bucket.stamp = stamp
		bucket.successes = 0
		bucket.failures = 0
	}
	return bucket
}

func (cb *CircuitBreaker) windowTotalsLocked(now time.Time) (successes, failures int64) {
	newest := now.UnixNano() / int64(cb.opts.BucketLength)
	oldest := newest - int64(len(cb.buckets)) + 1
	for i := range cb.buckets {
		bucket := &cb.buckets[i]
		if bucket.stamp < oldest || bucket.stamp > newest {
			continue
		}
		successes += bucket.successes
		failures += bucket.failures
	}
	return successes, failures
}

func (cb *CircuitBreaker) resetWindowLocked() {
	for i := range cb.buckets {
		cb.buckets[i] = circuitBucket{}
	}
	cb.probesGranted = 0
	cb.probeSuccesses = 0
}
