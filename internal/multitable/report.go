package multitable

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"catalogflat/internal/entity"
	"catalogflat/internal/mapping"
)

// MissingReport is the run-level mapping.Reporter.
//
// Optional misses are counted per entity and, with LogOptional, logged one
// line per field. Required misses are collected as report lines for the
// missing-field notification.
type MissingReport struct {
	Log         *zap.Logger
	LogOptional bool
	IDField     string

	mu       sync.Mutex
	current  int
	optional int
	required []string
}

var _ mapping.Reporter = (*MissingReport)(nil)

// NewMissingReport returns a report keyed by idField.
func NewMissingReport(log *zap.Logger, idField string, logOptional bool) *MissingReport {
	if log == nil {
		log = zap.NewNop()
	}
	return &MissingReport{Log: log, IDField: idField, LogOptional: logOptional}
}

func (r *MissingReport) OptionalMissing(field string, _ entity.Entity) {
	r.mu.Lock()
	r.current++
	r.optional++
	r.mu.Unlock()

	if r.LogOptional {
		r.Log.Info(fmt.Sprintf("Property '%s' does not exists", field))
	}
}

func (r *MissingReport) RequiredMissing(field string, e entity.Entity) {
	line := fmt.Sprintf("- Property '%s' does not exists for product %s", field, e.ID(r.IDField))

	r.mu.Lock()
	r.required = append(r.required, line)
	r.mu.Unlock()
}

// BeginEntity resets the per-entity counter.
func (r *MissingReport) BeginEntity() {
	r.mu.Lock()
	r.current = 0
	r.mu.Unlock()
}

// EndEntity logs the per-entity summary when optional lines were logged.
// It returns the number of optional misses for the entity.
func (r *MissingReport) EndEntity() int {
	r.mu.Lock()
	n := r.current
	r.mu.Unlock()

	if r.LogOptional && n > 0 {
		r.Log.Info(fmt.Sprintf("(%d missing)", n))
		r.Log.Info("--------------------------")
	}
	return n
}

// OptionalCount is the total of optional misses in the run.
func (r *MissingReport) OptionalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.optional
}

// RequiredCount is the number of required-missing lines collected.
func (r *MissingReport) RequiredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.required)
}

// String renders the required-missing lines, one per line. It is empty when
// nothing required was missing.
func (r *MissingReport) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.required) == 0 {
		return ""
	}
	return strings.Join(r.required, "\n") + "\n"
}
