// Package datadog implements a Datadog backend for internal/metrics.
//
// Metrics are buffered in memory and submitted on Flush. A background loop
// flushes every FlushEvery (default one minute) so long catalog runs produce a
// time series instead of a single spike, and Close flushes one final time.
//
// Counters are submitted as COUNT series. Histograms are reduced to
// nearest-rank percentile gauges (p50, p90, p95, p99, max, samples) because
// the v2 intake has no client-side distribution type.
//
// If the process is killed before Close, buffered points are lost.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"catalogflat/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "catalogflat".
	JobName string

	// Tags are extra tags such as "env:prod" or "team:catalog".
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted. Defaults
	// to 60s when <= 0.
	FlushEvery time.Duration

	// Test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// spec says how one metrics.* name is published.
type spec struct {
	name string   // Datadog metric name
	tags []string // label keys copied into tags, in this order
}

// known lists the metrics this backend publishes. Everything else is ignored.
var known = map[string]spec{
	metrics.StepTotal:                   {"catalogflat.step.total", []string{"step", "status"}},
	metrics.StepDurationSeconds:         {"catalogflat.step.duration_seconds", []string{"step", "status"}},
	metrics.EntitiesTotal:               {"catalogflat.entities.total", []string{"outcome"}},
	metrics.RowsTotal:                   {"catalogflat.rows.total", []string{"table"}},
	metrics.MissingTotal:                {"catalogflat.missing.total", []string{"kind"}},
	metrics.HTTPRequestsTotal:           {"catalogflat.http.requests.total", []string{"status"}},
	metrics.HTTPErrorsTotal:             {"catalogflat.http.errors.total", []string{"status"}},
	metrics.HTTPRequestDurationSeconds:  {"catalogflat.http.request_duration_seconds", []string{"status"}},
	metrics.HTTPResponseDurationSeconds: {"catalogflat.http.response_duration_seconds", []string{"status"}},
	metrics.HTTPDownloadBytes:           {"catalogflat.http.download_bytes", []string{"status"}},
}

// seriesKey identifies one buffered series: Datadog name plus its extra tags
// joined with "\x00".
type seriesKey struct {
	metric string
	tags   string
}

func (k seriesKey) tagList() []string {
	if k.tags == "" {
		return nil
	}
	return strings.Split(k.tags, "\x00")
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

var _ metrics.Backend = (*Backend)(nil)

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials come from DD_API_KEY / DD_SITE as read by
// the client; network errors surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = "catalogflat"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs a final Flush. Later calls only
// flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func keyFor(name string, labels metrics.Labels) (seriesKey, bool) {
	s, ok := known[name]
	if !ok {
		return seriesKey{}, false
	}
	tags := make([]string, 0, len(s.tags))
	for _, k := range s.tags {
		v := labels[k]
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	return seriesKey{metric: s.name, tags: strings.Join(tags, "\x00")}, true
}

// IncCounter implements metrics.Backend. Non-positive deltas and unknown
// names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, ok := keyFor(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values and unknown
// names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k, ok := keyFor(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

// snapshotAndReset detaches the buffers under the lock.
func (b *Backend) snapshotAndReset() (map[seriesKey]float64, map[seriesKey][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, s := b.counters, b.samples
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return c, s
}

// Flush submits buffered metrics and resets the buffers, even when submission
// fails. It returns nil without a request when nothing is buffered.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	series := b.buildSeries(counters, samples, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries turns a snapshot into intake series at a fixed timestamp. Output
// is sorted by metric name so payloads are deterministic.
func (b *Backend) buildSeries(counters map[seriesKey]float64, samples map[seriesKey][]float64, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for k, v := range counters {
		if v == 0 {
			continue
		}
		series = append(series, point(datadogV2.METRICINTAKETYPE_COUNT, k.metric, v, withTags(b.baseTags, k.tagList()...), nowUnix))
	}
	for k, s := range samples {
		addPercentiles(&series, withTags(b.baseTags, k.tagList()...), k.metric, s, nowUnix)
	}

	sort.SliceStable(series, func(i, j int) bool { return series[i].Metric < series[j].Metric })
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// samples is not modified.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, prefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	for _, q := range []struct {
		suffix string
		p      float64
	}{{"p50", 0.50}, {"p90", 0.90}, {"p95", 0.95}, {"p99", 0.99}} {
		*series = append(*series, gaugeSeries(prefix+"."+q.suffix, percentileNearestRank(cp, q.p), tags, nowUnix))
	}
	*series = append(*series, gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix))
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(datadogV2.METRICINTAKETYPE_GAUGE, metric, value, tags, nowUnix)
}

func point(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:catalog".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
