// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from bulk-load jobs.
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//
// Concrete metric systems live in subpackages (prompush, datadog) so the
// pipeline only depends on this package.
package metrics

import "time"

// Metric names emitted by the helpers below.
const (
	StepTotal           = "lightspeed_step_total"
	StepDurationSeconds = "lightspeed_step_duration_seconds"
	RowsTotal           = "lightspeed_rows_total"
	ChunksTotal         = "lightspeed_chunks_total"
	BytesTotal          = "lightspeed_bytes_total"
	LoadsTotal          = "lightspeed_loads_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
// It is intentionally generic so we can plug in Prometheus, Datadog, etc.
// Implementations must be safe for concurrent use; jobs run in parallel.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing
// backend. Call it before any job starts.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep is a convenience for the common pattern:
// measure latency + success/failure per job phase (acquire, shape, execute).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordChunk counts one chunk written to the destination and its size.
func RecordChunk(job string, size int) {
	lbls := Labels{"job": job}
	backend.IncCounter(ChunksTotal, 1, lbls)
	if size > 0 {
		backend.IncCounter(BytesTotal, float64(size), lbls)
	}
}

// RecordRows adds the number of rows a committed load reported for table.
func RecordRows(job, table string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":   job,
		"table": table,
	})
}

// RecordLoad counts a finished load by outcome: "committed", "rolled_back",
// or "open_failed" when the destination never began the load.
func RecordLoad(job, outcome string) {
	backend.IncCounter(LoadsTotal, 1, Labels{
		"job":     job,
		"outcome": outcome,
	})
}
