// Package datadog sends load metrics to a DogStatsD agent. Metric labels
// become "key:value" tags; counters map to Count and durations to Histogram.
package datadog

import (
	"fmt"
	"slices"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/metrics"
)

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or "unix:///path/to/socket".
	Addr string

	// Namespace is an optional prefix added to all metric names, e.g. "lightspeed.".
	Namespace string

	// GlobalTags are attached to every metric, e.g. "service:lightspeed".
	GlobalTags []string
}

// options translates cfg into statsd client options.
func (cfg Config) options() []statsd.Option {
	opts := []statsd.Option{statsd.WithoutTelemetry()}
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	return opts
}

// Backend implements metrics.Backend on top of a statsd client. The zero
// value drops everything.
type Backend struct {
	client statsd.ClientInterface
}

// NewBackend dials the agent at cfg.Addr.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}
	c, err := statsd.New(cfg.Addr, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client %s: %w", cfg.Addr, err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends delta as a Count. DogStatsD counts are integers, so
// fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Count(name, int64(delta), tagsOf(labels), 1)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Histogram(name, value, tagsOf(labels), 1)
}

// Flush closes the client, which sends any buffered or aggregated
// payloads. It is called once at process exit.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// tagsOf renders labels as sorted "key:value" tags.
func tagsOf(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	slices.Sort(out)
	return out
}
