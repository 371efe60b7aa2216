package metrics

// Collector captures counters, gauges and histograms. The push, pop, peek
// and recovery paths of the log system record nothing through it; the
// cmd/logsysd binary sets a gauge when a recovered epoch is published.
// internal/control exposes a Collector's Prometheus-formatted text at
// /metrics when the concrete implementation supports it.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Noop discards everything. It is the default collector for a LogSystem
// constructed without one, so call sites never need a nil check.
type Noop struct{}

func (Noop) IncCounter(name string, labels map[string]string, delta float64)        {}
func (Noop) SetGauge(name string, labels map[string]string, value float64)          {}
func (Noop) ObserveHistogram(name string, labels map[string]string, value float64)  {}
