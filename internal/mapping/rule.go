// Package mapping implements the column mapping engine: rules that derive a
// column value from an entity, and the resolver that expands one entity into
// the flat rows of one output table.
//
// A table is described by an ordered Mapping of (column, Rule) pairs. Rules
// come in four kinds:
//
//	Constant      one literal value
//	ConstantList  several literals, one per alternative row
//	Field         one source field
//	FieldList     several alternative source fields, one per alternative row
//
// List rules with more than one entry are "alternative groups": the resolver
// emits one candidate row per alternative. A field whose value is an array and
// whose rule selects all items forms a "data group": the resolver emits one row
// per array element.
package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMapping is returned for mapping definitions that can never be
// resolved (empty lists, duplicate columns, mismatched cardinalities, ...).
var ErrMalformedMapping = errors.New("mapping: malformed mapping")

// Kind identifies how a Rule produces its values.
type Kind int

const (
	KindConstant Kind = iota
	KindConstantList
	KindField
	KindFieldList
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindConstantList:
		return "constant_list"
	case KindField:
		return "field"
	case KindFieldList:
		return "field_list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TransformFunc rewrites one resolved value. It must be pure.
type TransformFunc func(string) string

// Rule is an immutable description of how to derive one column's value(s).
// Build rules with Constant, ConstantList, Field or FieldList.
type Rule struct {
	kind   Kind
	values []string

	// arrayIndex selects one array element; nil selects all elements.
	arrayIndex *int

	// def is used when the field is absent, out of range or an empty array;
	// nil means "skip the entity".
	def *string

	transform  TransformFunc
	mustReport bool
}

// RuleOption configures a field rule.
type RuleOption func(*Rule)

// WithDefault sets the value used when the source field yields nothing.
func WithDefault(v string) RuleOption {
	return func(r *Rule) { r.def = &v }
}

// SkipIfMissing makes a missing value skip the whole entity for the table.
func SkipIfMissing() RuleOption {
	return func(r *Rule) { r.def = nil }
}

// WithTransform applies fn to every resolved value.
func WithTransform(fn TransformFunc) RuleOption {
	return func(r *Rule) { r.transform = fn }
}

// WithArrayIndex selects element i when the field holds an array.
func WithArrayIndex(i int) RuleOption {
	return func(r *Rule) { r.arrayIndex = &i }
}

// AllItems makes an array field produce one value per element.
func AllItems() RuleOption {
	return func(r *Rule) { r.arrayIndex = nil }
}

// ReportIfMissing flags an absent field for the required-missing report.
func ReportIfMissing() RuleOption {
	return func(r *Rule) { r.mustReport = true }
}

// Constant returns a rule that always yields v.
func Constant(v string) *Rule {
	return &Rule{kind: KindConstant, values: []string{v}}
}

// ConstantList returns a rule that yields vs[i] for alternative row i.
func ConstantList(vs ...string) (*Rule, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: constant list needs at least one value", ErrMalformedMapping)
	}
	return &Rule{kind: KindConstantList, values: append([]string(nil), vs...)}, nil
}

// Field returns a rule reading the named field.
//
// Defaults: default value "", array index 0, no transform, not reported.
func Field(name string, opts ...RuleOption) *Rule {
	return newFieldRule(KindField, []string{name}, opts)
}

// FieldList returns a rule reading names[i] for alternative row i.
func FieldList(names []string, opts ...RuleOption) (*Rule, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: field list needs at least one field name", ErrMalformedMapping)
	}
	return newFieldRule(KindFieldList, append([]string(nil), names...), opts), nil
}

func newFieldRule(kind Kind, names []string, opts []RuleOption) *Rule {
	empty := ""
	zero := 0
	r := &Rule{
		kind:       kind,
		values:     names,
		arrayIndex: &zero,
		def:        &empty,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Kind reports the rule kind.
func (r *Rule) Kind() Kind { return r.kind }

// Values returns a copy of the literals (constant kinds) or field names.
func (r *Rule) Values() []string { return append([]string(nil), r.values...) }

// Cardinality is the number of alternatives the rule defines.
func (r *Rule) Cardinality() int { return len(r.values) }

// Default returns the default value and whether one is set.
func (r *Rule) Default() (string, bool) {
	if r.def == nil {
		return "", false
	}
	return *r.def, true
}

// ArrayIndex returns the selected array index, or ok=false for "all items".
func (r *Rule) ArrayIndex() (int, bool) {
	if r.arrayIndex == nil {
		return 0, false
	}
	return *r.arrayIndex, true
}

// MustReport reports whether an absent field is raised as required-missing.
func (r *Rule) MustReport() bool { return r.mustReport }

func (r *Rule) isConstant() bool {
	return r.kind == KindConstant || r.kind == KindConstantList
}

// alternates reports whether the rule expands into alternative rows.
func (r *Rule) alternates() bool {
	return (r.kind == KindConstantList || r.kind == KindFieldList) && len(r.values) > 1
}

var newlineStripper = strings.NewReplacer("\n", "", "\r", "")

// finish trims, strips embedded newlines and applies the transform.
func (r *Rule) finish(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		v = newlineStripper.Replace(strings.TrimSpace(v))
		if r.transform != nil {
			v = r.transform(v)
		}
		out[i] = v
	}
	return out
}
