package observability

import "time"

// MultiMetrics fans out measurements to several sinks.
type MultiMetrics []Metrics

// NewMultiMetrics combines sinks, skipping nils.
func NewMultiMetrics(sinks ...Metrics) MultiMetrics {
	out := make(MultiMetrics, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (m MultiMetrics) IncDecision(result string, class string, region string) {
	for _, sink := range m {
		sink.IncDecision(result, class, region)
	}
}

func (m MultiMetrics) IncFailOpen(region string) {
	for _, sink := range m {
		sink.IncFailOpen(region)
	}
}

func (m MultiMetrics) IncCircuitTransition(upstream string, from string, to string) {
	for _, sink := range m {
		sink.IncCircuitTransition(upstream, from, to)
	}
}

func (m MultiMetrics) IncStoreError(op string, region string) {
	for _, sink := range m {
		sink.IncStoreError(op, region)
	}
}

func (m MultiMetrics) IncOverride(action string) {
	for _, sink := range m {
		sink.IncOverride(action)
	}
}

func (m MultiMetrics) ObserveLatency(op string, d time.Duration, region string) {
	for _, sink := range m {
		sink.ObserveLatency(op, d, region)
	}
}
