package mapping

import "catalogflat/internal/entity"

// Reporter observes absent source fields during resolution.
//
// Both callbacks are fire-and-forget; the resolver never treats them as errors.
//   - OptionalMissing fires when a field is absent and the rule has a default.
//   - RequiredMissing fires when a field is absent and the rule is flagged
//     ReportIfMissing (in addition to OptionalMissing, if that applies).
type Reporter interface {
	OptionalMissing(field string, e entity.Entity)
	RequiredMissing(field string, e entity.Entity)
}

// NopReporter ignores all notifications.
type NopReporter struct{}

func (NopReporter) OptionalMissing(string, entity.Entity) {}
func (NopReporter) RequiredMissing(string, entity.Entity) {}

// ReporterFuncs adapts plain functions to Reporter. Nil funcs are ignored.
type ReporterFuncs struct {
	Optional func(field string, e entity.Entity)
	Required func(field string, e entity.Entity)
}

func (f ReporterFuncs) OptionalMissing(field string, e entity.Entity) {
	if f.Optional != nil {
		f.Optional(field, e)
	}
}

func (f ReporterFuncs) RequiredMissing(field string, e entity.Entity) {
	if f.Required != nil {
		f.Required(field, e)
	}
}
