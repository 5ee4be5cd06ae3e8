package mapping

import (
	"fmt"
	"strings"
)

// Column pairs an output column name with the rule that fills it.
type Column struct {
	Name string
	Rule *Rule
}

// Mapping is a validated, ordered list of columns for one output table.
// It is immutable once built.
type Mapping struct {
	columns     []Column
	cardinality int
}

// NewMapping validates cols and returns an immutable Mapping.
//
// Rejected (errors wrap ErrMalformedMapping):
//   - no columns
//   - empty or duplicate column names
//   - nil rules, empty field names, negative array indexes
//   - alternative groups (list rules with more than one entry) whose
//     cardinalities differ
func NewMapping(cols ...Column) (*Mapping, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrMalformedMapping)
	}

	seen := make(map[string]struct{}, len(cols))
	card := 0
	cardFrom := ""

	for i, c := range cols {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: column %d has an empty name", ErrMalformedMapping, i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrMalformedMapping, c.Name)
		}
		seen[c.Name] = struct{}{}

		r := c.Rule
		if r == nil {
			return nil, fmt.Errorf("%w: column %q has no rule", ErrMalformedMapping, c.Name)
		}
		if len(r.values) == 0 {
			return nil, fmt.Errorf("%w: column %q rule has no values", ErrMalformedMapping, c.Name)
		}
		if !r.isConstant() {
			for _, name := range r.values {
				if name == "" {
					return nil, fmt.Errorf("%w: column %q references an empty field name", ErrMalformedMapping, c.Name)
				}
			}
			if idx, ok := r.ArrayIndex(); ok && idx < 0 {
				return nil, fmt.Errorf("%w: column %q has negative array index %d", ErrMalformedMapping, c.Name, idx)
			}
		}

		if r.alternates() {
			switch {
			case card == 0:
				card = len(r.values)
				cardFrom = c.Name
			case card != len(r.values):
				return nil, fmt.Errorf("%w: column %q has %d alternatives but column %q has %d",
					ErrMalformedMapping, c.Name, len(r.values), cardFrom, card)
			}
		}
	}

	return &Mapping{
		columns:     append([]Column(nil), cols...),
		cardinality: card,
	}, nil
}

// Len returns the number of columns.
func (m *Mapping) Len() int { return len(m.columns) }

// Columns returns a copy of the columns in output order.
func (m *Mapping) Columns() []Column { return append([]Column(nil), m.columns...) }

// Names returns the column names in output order.
func (m *Mapping) Names() []string {
	out := make([]string, len(m.columns))
	for i, c := range m.columns {
		out[i] = c.Name
	}
	return out
}

// Cardinality is the shared alternative count, or 0 when no column alternates.
func (m *Mapping) Cardinality() int { return m.cardinality }
