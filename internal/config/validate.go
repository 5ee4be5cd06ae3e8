package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"catalogflat/internal/flatfile"
)

// Severity ranks a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from ValidatePipeline. Path is a dotted JSON path
// such as "tables[1].columns[0].rule".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks p for problems that would make a run fail or behave
// unexpectedly. It never stops at the first problem.
//
// Transform kinds are only checked for presence here; unknown kinds are
// rejected when the transform chain is built.
func ValidatePipeline(p Pipeline) []Issue {
	var v validator

	switch p.Feed.Kind {
	case "http":
		if strings.TrimSpace(p.Feed.URL) == "" {
			v.errorf("feed.url", "required for feed.kind=http")
		}
	case "file":
		if strings.TrimSpace(p.Feed.Path) == "" {
			v.errorf("feed.path", "required for feed.kind=file")
		}
	case "":
		v.errorf("feed.kind", "must be set (http|file)")
	default:
		v.errorf("feed.kind", "unsupported kind %q (http|file)", p.Feed.Kind)
	}
	if p.Feed.RetryCount < 0 {
		v.errorf("feed.retry_count", "must be >= 0")
	}
	if p.Feed.MaxPages < 0 {
		v.errorf("feed.max_pages", "must be >= 0")
	}
	if p.Feed.PageParam != "" && p.Feed.Kind != "http" {
		v.warnf("feed.page_param", "ignored for feed.kind=%s", p.Feed.Kind)
	}

	if sep := p.Output.Separator; sep != "" && sep != `\t` {
		if utf8.RuneCountInString(sep) != 1 {
			v.errorf("output.separator", "must be a single character, got %q", sep)
		} else if sep == "\n" || sep == "\r" {
			v.errorf("output.separator", "line breaks cannot separate columns")
		}
	}
	if p.Output.Encoding != "" {
		if _, err := flatfile.LookupEncoding(p.Output.Encoding); err != nil {
			v.errorf("output.encoding", "%v", err)
		}
	}

	switch strings.ToLower(p.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.errorf("log.level", "unsupported level %q (debug|info|warn|error)", p.Log.Level)
	}
	switch strings.ToLower(p.Log.Format) {
	case "", "console", "json":
	default:
		v.errorf("log.format", "unsupported format %q (console|json)", p.Log.Format)
	}

	if p.Notify.EmailOnFail != "" && p.Notify.SMTPServer == "" {
		v.warnf("notify.smtp_server", "email_on_fail is set but no SMTP server; notifications will only be logged")
	}

	if p.Storage.Kind != "" && strings.TrimSpace(p.Storage.DSN) == "" {
		v.errorf("storage.dsn", "required when storage.kind is set")
	}

	switch strings.ToLower(p.Metrics.Backend) {
	case "", "none", "noop", "datadog", "dd", "pushgateway", "prompush":
	default:
		v.warnf("metrics.backend", "unknown backend %q; metrics disabled", p.Metrics.Backend)
	}

	if p.PrimaryIDField == "" {
		v.warnf("primary_id_field", "not set; reports will use %q", "<no identifier>")
	}

	v.tables(p)
	return v.issues
}

type validator struct {
	issues []Issue
}

func (v *validator) errorf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) tables(p Pipeline) {
	if len(p.Tables) == 0 {
		v.errorf("tables", "at least one table is required")
		return
	}

	names := map[string]int{}
	files := map[string]int{}
	primaries := 0

	for ti, t := range p.Tables {
		tp := fmt.Sprintf("tables[%d]", ti)

		if strings.TrimSpace(t.Name) == "" {
			v.errorf(tp+".name", "required")
		} else if prev, dup := names[t.Name]; dup {
			v.errorf(tp+".name", "duplicate table %q (also tables[%d])", t.Name, prev)
		} else {
			names[t.Name] = ti
		}

		if fn := t.FileName(); fn != ".txt" {
			if prev, dup := files[fn]; dup {
				v.errorf(tp+".file", "file %q already written by tables[%d]", fn, prev)
			} else {
				files[fn] = ti
			}
		}

		if t.Primary {
			primaries++
		}
		if t.DBTable != "" && p.Storage.Kind == "" {
			v.warnf(tp+".db_table", "ignored because storage.kind is not set")
		}

		v.columns(tp, t.Columns)
	}

	if primaries > 1 {
		v.errorf("tables", "%d tables are marked primary; at most one is allowed", primaries)
	}
}

func (v *validator) columns(tp string, cols []Column) {
	if len(cols) == 0 {
		v.errorf(tp+".columns", "at least one column is required")
		return
	}

	seen := map[string]bool{}
	card, cardFrom := 0, ""

	for ci, c := range cols {
		cp := fmt.Sprintf("%s.columns[%d]", tp, ci)

		if strings.TrimSpace(c.Name) == "" {
			v.errorf(cp+".name", "required")
		} else if seen[c.Name] {
			v.errorf(cp+".name", "duplicate column %q", c.Name)
		}
		seen[c.Name] = true

		r := c.Rule
		rp := cp + ".rule"
		kind := r.Kind()
		if kind == "" {
			v.errorf(rp, "exactly one of const, consts, field or fields must be set")
			continue
		}

		n := 0
		switch kind {
		case "consts":
			n = len(r.Consts)
		case "fields":
			n = len(r.Fields)
			for fi, f := range r.Fields {
				if strings.TrimSpace(f) == "" {
					v.errorf(fmt.Sprintf("%s.fields[%d]", rp, fi), "empty field name")
				}
			}
		}
		if n > 1 {
			switch {
			case card == 0:
				card, cardFrom = n, c.Name
			case card != n:
				v.errorf(rp, "%d alternatives, but column %q has %d", n, cardFrom, card)
			}
		}

		if kind == "const" || kind == "consts" {
			if r.Default != nil || r.SkipIfMissing || r.ArrayIndex != nil || r.AllItems || r.ReportIfMissing {
				v.warnf(rp, "field options are ignored on constant rules")
			}
			if len(r.Transform) > 0 {
				v.warnf(rp+".transform", "constants are not transformed")
			}
			continue
		}

		if r.ArrayIndex != nil && *r.ArrayIndex < 0 {
			v.errorf(rp+".array_index", "must be >= 0")
		}
		if r.ArrayIndex != nil && r.AllItems {
			v.warnf(rp+".array_index", "ignored because all_items is set")
		}
		if r.Default != nil && r.SkipIfMissing {
			v.warnf(rp+".default", "ignored because skip_if_missing is set")
		}
		for xi, tr := range r.Transform {
			if strings.TrimSpace(tr.Kind) == "" {
				v.errorf(fmt.Sprintf("%s.transform[%d].kind", rp, xi), "required")
			}
		}
	}
}
