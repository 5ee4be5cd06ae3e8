// Package prompush implements a Prometheus Pushgateway backend for
// internal/metrics.
//
// Each known metric is registered on a private registry. Flush pushes the
// whole registry to the gateway under the job name, replacing the previous
// push for that job.
package prompush

import (
	"fmt"
	"strings"

	"catalogflat/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// labelKeys lists the label names of each metric. "job" is carried by the
// push grouping key, not as a label.
var labelKeys = map[string][]string{
	metrics.StepTotal:                   {"step", "status"},
	metrics.StepDurationSeconds:         {"step", "status"},
	metrics.EntitiesTotal:               {"outcome"},
	metrics.RowsTotal:                   {"table"},
	metrics.MissingTotal:                {"kind"},
	metrics.HTTPRequestsTotal:           {"status"},
	metrics.HTTPErrorsTotal:             {"status"},
	metrics.HTTPRequestDurationSeconds:  {"status"},
	metrics.HTTPResponseDurationSeconds: {"status"},
	metrics.HTTPDownloadBytes:           {"status"},
}

var help = map[string]string{
	metrics.StepTotal:                   "Pipeline steps by status.",
	metrics.StepDurationSeconds:         "Pipeline step duration.",
	metrics.EntitiesTotal:               "Entities read from the feed by outcome.",
	metrics.RowsTotal:                   "Rows written per table.",
	metrics.MissingTotal:                "Missing-field notifications by kind.",
	metrics.HTTPRequestsTotal:           "Feed request attempts by status.",
	metrics.HTTPErrorsTotal:             "Failed feed request attempts by status.",
	metrics.HTTPRequestDurationSeconds:  "Time to response headers.",
	metrics.HTTPResponseDurationSeconds: "Time to full response body.",
	metrics.HTTPDownloadBytes:           "Feed response body size.",
}

// Backend implements metrics.Backend on top of a Pushgateway pusher. The
// vectors are created once in NewBackend and only read afterwards.
type Backend struct {
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend creates a backend pushing to gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: empty job name")
	}
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	b := &Backend{
		pusher:     push.New(gatewayURL, job).Gatherer(reg),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	for name, keys := range labelKeys {
		if strings.HasSuffix(name, "_total") {
			b.counters[name] = factory.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help[name]}, keys)
			continue
		}
		buckets := prometheus.DefBuckets
		if name == metrics.HTTPDownloadBytes {
			buckets = prometheus.ExponentialBuckets(1024, 4, 10)
		}
		b.histograms[name] = factory.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help[name], Buckets: buckets}, keys)
	}
	return b, nil
}

func values(name string, labels metrics.Labels) []string {
	keys := labelKeys[name]
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = labels[k]
		if out[i] == "" {
			out[i] = "unknown"
		}
	}
	return out
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	c, ok := b.counters[name]
	if !ok {
		return
	}
	c.WithLabelValues(values(name, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	h, ok := b.histograms[name]
	if !ok {
		return
	}
	h.WithLabelValues(values(name, labels)...).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
