// Package observability provides in-memory metrics.
package observability

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryMetrics stores counters and latency summaries.
type InMemoryMetrics struct {
	counters  sync.Map
	latencies sync.Map
}

type latencySummary struct {
	count      atomic.Int64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
}

// NewInMemoryMetrics constructs an in-memory metrics recorder.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

// IncDecision increments a decision counter.
func (m *InMemoryMetrics) IncDecision(result string, class string, region string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("decision|%s|%s|%s", result, class, region))
}

// IncFailOpen increments the fail-open anomaly counter.
func (m *InMemoryMetrics) IncFailOpen(region string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("fail_open|%s", region))
}

// IncCircuitTransition increments a circuit transition counter.
func (m *InMemoryMetrics) IncCircuitTransition(upstream string, from string, to string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("circuit|%s|%s|%s", upstream, from, to))
}

// IncStoreError increments store error counters.
func (m *InMemoryMetrics) IncStoreError(op string, region string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("store_error|%s|%s", op, region))
}

// IncOverride increments override administration counters.
func (m *InMemoryMetrics) IncOverride(action string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("override|%s", action))
}

// ObserveLatency tracks latency measurements.
func (m *InMemoryMetrics) ObserveLatency(op string, d time.Duration, region string) {
	if m == nil {
		return
	}
	entry := m.getLatency(fmt.Sprintf("latency|%s|%s", op, region))
	if entry == nil {
		return
	}
	nanos := d.Nanoseconds()
	entry.count.Add(1)
	entry.totalNanos.Add(nanos)
	for {
		current := entry.maxNanos.Load()
		if nanos <= current {
			break
		}
		if entry.maxNanos.CompareAndSwap(current, nanos) {
			break
		}
	}
}

// Snapshot exports metrics values.
func (m *InMemoryMetrics) Snapshot() map[string]any {
	result := map[string]any{}
	if m == nil {
		return result
	}

	counters := map[string]int64{}
	m.counters.Range(func(key, value any) bool {
		k, ok := key.(string)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Int64)
		if !ok || counter == nil {
			return true
		}
		counters[k] = counter.Load()
		return true
	})

	latencies := map[string]map[string]int64{}
	m.latencies.Range(func(key, value any) bool {
		k, ok := key.(string)
		if !ok {
			return true
		}
		entry, ok := value.(*latencySummary)
		if !ok || entry == nil {
			return true
		}
		latencies[k] = map[string]int64{
			"count":      entry.count.Load(),
			"totalNanos": entry.totalNanos.Load(),
			"maxNanos":   entry.maxNanos.Load(),
		}
		return true
	})

	result["counters"] = counters
	result["latencies"] = latencies
	return result
}

func (m *InMemoryMetrics) incCounter(key string) {
	counter := m.getCounter(key)
	if counter == nil {
		return
	}
	counter.Add(1)
}

func (m *InMemoryMetrics) getCounter(key string) *atomic.Int64 {
	if key == "" {
		return nil
	}
	if existing, ok := m.counters.Load(key); ok {
		if counter, ok := existing.(*atomic.Int64); ok {
			return counter
		}
	}
	counter := &atomic.Int64{}
	actual, _ := m.counters.LoadOrStore(key, counter)
	if stored, ok := actual.(*atomic.Int64); ok {
		return stored
	}
	return counter
}

func (m *InMemoryMetrics) getLatency(key string) *latencySummary {
	if key == "" {
		return nil
	}
	if existing, ok := m.latencies.Load(key); ok {
		if entry, ok := existing.(*latencySummary); ok {
			return entry
		}
	}
	entry := &latencySummary{}
	actual, _ := m.latencies.LoadOrStore(key, entry)
	if stored, ok := actual.(*latencySummary); ok {
		return stored
	}
	return entry
}
