// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Bulk-load jobs are short-lived, so instead of exposing a scrape endpoint the
// backend keeps a private registry and pushes it to a Pushgateway on Flush.
// The "job" label of the metrics package becomes the Pushgateway grouping key
// and is not repeated as a metric label.
package prompush

import (
	"fmt"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // step, status
	stepDuration *prometheus.SummaryVec // step, status

	rowCounter   *prometheus.CounterVec // table
	chunkCounter prometheus.Counter
	byteCounter  prometheus.Counter
	loadCounter  *prometheus.CounterVec // outcome
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name.
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "lightspeed"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Job phase executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Duration of job phases in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows committed to the destination table.",
		}, []string{"table"}),
		chunkCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.ChunksTotal,
			Help: "Chunks written to the bulk-load channel.",
		}),
		byteCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BytesTotal,
			Help: "Bytes written to the bulk-load channel.",
		}),
		loadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.LoadsTotal,
			Help: "Finished loads by outcome.",
		}, []string{"outcome"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":  b.stepCounter,
		"step summary":  b.stepDuration,
		"row counter":   b.rowCounter,
		"chunk counter": b.chunkCounter,
		"byte counter":  b.byteCounter,
		"load counter":  b.loadCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["table"]).Add(delta)
		}
	case metrics.ChunksTotal:
		if b.chunkCounter != nil {
			b.chunkCounter.Add(delta)
		}
	case metrics.BytesTotal:
		if b.byteCounter != nil {
			b.byteCounter.Add(delta)
		}
	case metrics.LoadsTotal:
		if b.loadCounter != nil {
			b.loadCounter.WithLabelValues(labels["outcome"]).Add(delta)
		}
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
