// Package metrics is the process-wide metrics facade used by catalogflat.
//
// Core code records through the helpers in this package (RecordHTTP,
// RecordEntity, RecordRows, RecordMissing, RecordStep) and never depends on a
// concrete backend. cmd/catalogflat selects a backend at startup with
// SetBackend; until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names emitted by the helpers. Backends switch on these.
const (
	StepTotal           = "catalogflat_step_total"
	StepDurationSeconds = "catalogflat_step_duration_seconds"

	EntitiesTotal = "catalogflat_entities_total"
	RowsTotal     = "catalogflat_rows_total"
	MissingTotal  = "catalogflat_missing_total"

	HTTPRequestsTotal           = "catalogflat_http_requests_total"
	HTTPErrorsTotal             = "catalogflat_http_errors_total"
	HTTPRequestDurationSeconds  = "catalogflat_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "catalogflat_http_response_duration_seconds"
	HTTPDownloadBytes           = "catalogflat_http_download_bytes"
)

// Entity outcomes for RecordEntity.
const (
	EntityProcessed = "processed"
	EntitySkipped   = "skipped"
)

// Missing-field kinds for RecordMissing.
const (
	MissingOptional = "optional"
	MissingRequired = "required"
)

// Labels are metric dimensions. Keys are backend-neutral ("job", "step",
// "status", "table", ...).
type Labels map[string]string

// Backend receives metric events.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep records one pipeline step (load_config, fetch, process, close)
// with its duration. err decides the status label.
func RecordStep(job, step string, err error, d time.Duration) {
	l := Labels{"job": job, "step": step, "status": status(err)}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordEntity counts one entity by outcome (EntityProcessed, EntitySkipped).
func RecordEntity(job, outcome string) {
	current().IncCounter(EntitiesTotal, 1, Labels{"job": job, "outcome": outcome})
}

// RecordRows counts rows written for a table.
func RecordRows(job, table string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"job": job, "table": table})
}

// RecordMissing counts missing-field notifications by kind
// (MissingOptional, MissingRequired).
func RecordMissing(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(MissingTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordHTTP records one feed request attempt.
//
// statusCode is 0 when no response was received. Negative durations and sizes
// mean "not measured" and are not observed.
func RecordHTTP(job string, statusCode int, err error, reqDur, respDur time.Duration, size int64) {
	st := "error"
	if statusCode > 0 {
		st = strconv.Itoa(statusCode)
	}
	l := Labels{"job": job, "status": st}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || statusCode == 0 || statusCode >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur >= 0 {
		b.ObserveHistogram(HTTPRequestDurationSeconds, reqDur.Seconds(), l)
	}
	if respDur >= 0 {
		b.ObserveHistogram(HTTPResponseDurationSeconds, respDur.Seconds(), l)
	}
	if size >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
