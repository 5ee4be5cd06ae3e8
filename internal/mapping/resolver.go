package mapping

import (
	"sort"
	"strings"

	"catalogflat/internal/entity"
)

// Row is one fully resolved output line, one value per column.
type Row []string

// Join renders the row with sep between columns (never trailing).
func (r Row) Join(sep rune) string {
	return strings.Join(r, string(sep))
}

// Result is the outcome of resolving one entity against one Mapping.
type Result struct {
	// Rows are the emitted rows in mapping column order.
	Rows []Row

	// Skipped is true when a column resolved outside of any alternative group
	// had no usable value. Rows is empty in that case, and the caller should
	// treat the entity as absent from this table.
	Skipped bool

	// Dropped counts alternatives whose own resolution had no usable value.
	// Dropping an alternative never sets Skipped.
	Dropped int
}

// Resolver turns entities into rows for one Mapping.
//
// A Resolver holds no per-entity state and may be reused for every entity of
// a run. Concurrent use is safe when its Reporter is.
type Resolver struct {
	mapping  *Mapping
	reporter Reporter
}

// NewResolver returns a Resolver for m. A nil reporter is replaced by NopReporter.
func NewResolver(m *Mapping, rep Reporter) *Resolver {
	if rep == nil {
		rep = NopReporter{}
	}
	return &Resolver{mapping: m, reporter: rep}
}

// Mapping returns the mapping this resolver expands.
func (r *Resolver) Mapping() *Mapping { return r.mapping }

// ResolveField resolves alternative k of rule against e.
//
// It returns the sanitized, transformed values and skip=true when the rule had
// no usable value (absent field, empty array or out-of-range index, with no
// default). Constant rules return their k-th literal untouched.
func (r *Resolver) ResolveField(e entity.Entity, rule *Rule, k int) (values []string, skip bool) {
	if rule.isConstant() {
		return []string{rule.values[k]}, false
	}

	name := rule.values[k]
	raw, present := e.Lookup(name)

	var vals []string
	useDefault := false

	if !present {
		if rule.def != nil {
			r.reporter.OptionalMissing(name, e)
		}
		if rule.mustReport {
			r.reporter.RequiredMissing(name, e)
		}
		useDefault = true
	} else if arr, ok := asArray(raw); ok {
		if idx, one := rule.ArrayIndex(); one {
			if len(arr) <= idx {
				useDefault = true
			} else {
				vals = []string{entity.Stringify(arr[idx])}
			}
		} else if len(arr) == 0 {
			useDefault = true
		} else {
			vals = make([]string, len(arr))
			for i, v := range arr {
				vals[i] = entity.Stringify(v)
			}
		}
	} else {
		vals = []string{entity.Stringify(raw)}
	}

	if useDefault {
		if rule.def == nil {
			return nil, true
		}
		vals = []string{*rule.def}
	}
	return rule.finish(vals), false
}

func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

type cellKind uint8

const (
	cellLiteral cellKind = iota
	cellAlternative
	cellData
)

// cell is one column of a row under construction.
//
//	cellLiteral      text is final
//	cellAlternative  group indexes the alternating rule, pending per alternative
//	cellData         group/sub address a column of a data group, pending per element
type cell struct {
	kind  cellKind
	text  string
	group int
	sub   int
}

// dataColumn holds the values one unindexed array lookup produced.
type dataColumn struct {
	values []string
	// pad fills positions past len(values) when sibling columns are longer;
	// nil drops those positions.
	pad *string
}

func (c dataColumn) at(j int) (string, bool) {
	if j < len(c.values) {
		return c.values[j], true
	}
	if c.pad == nil {
		return "", false
	}
	return *c.pad, true
}

// dataGroup zips its columns by element position.
type dataGroup struct {
	cols []dataColumn
}

func (g *dataGroup) width() int {
	n := 0
	for _, c := range g.cols {
		if len(c.values) > n {
			n = len(c.values)
		}
	}
	return n
}

// expansion is the per-entity scratch state of Resolve.
type expansion struct {
	groups []*dataGroup
}

// place turns resolved values into a cell. Multiple values join the data
// group *group, opening it on first use.
func (x *expansion) place(vals []string, rule *Rule, group *int) cell {
	if len(vals) == 1 {
		return cell{kind: cellLiteral, text: vals[0]}
	}
	if *group < 0 {
		*group = len(x.groups)
		x.groups = append(x.groups, &dataGroup{})
	}
	g := x.groups[*group]

	col := dataColumn{values: vals}
	if rule.def != nil {
		p := rule.finish([]string{*rule.def})[0]
		col.pad = &p
	}
	g.cols = append(g.cols, col)
	return cell{kind: cellData, group: *group, sub: len(g.cols) - 1}
}

// Resolve expands e into the rows of this resolver's mapping.
//
// Expansion runs in three steps:
//
//  1. Initial pass, in column order. Alternating columns become pending
//     cells. Every other column is resolved now; a column with no usable
//     value skips the entity. Unindexed arrays found here share data group 0.
//  2. Alternative expansion. For each alternative i, pending cells are
//     resolved with alternative i. Arrays found while resolving alternative i
//     share one data group opened for that alternative. A skip drops only
//     candidate i.
//  3. Data-group expansion. Each candidate row expands as the cross product
//     of every data group it references, in group order. Columns of one group
//     are zipped by element position.
func (r *Resolver) Resolve(e entity.Entity) Result {
	cols := r.mapping.columns
	x := &expansion{}

	skeleton := make([]cell, len(cols))
	var alts []*Rule
	initialGroup := -1

	for i, c := range cols {
		rule := c.Rule
		switch {
		case rule.alternates():
			skeleton[i] = cell{kind: cellAlternative, group: len(alts)}
			alts = append(alts, rule)
		case rule.isConstant():
			skeleton[i] = cell{kind: cellLiteral, text: rule.values[0]}
		default:
			vals, skip := r.ResolveField(e, rule, 0)
			if skip {
				return Result{Skipped: true}
			}
			skeleton[i] = x.place(vals, rule, &initialGroup)
		}
	}

	candidates := [][]cell{skeleton}
	dropped := 0

	if len(alts) > 0 {
		card := alts[0].Cardinality()
		candidates = make([][]cell, 0, card)

	alternatives:
		for i := 0; i < card; i++ {
			row := append([]cell(nil), skeleton...)
			group := -1
			for j := range row {
				if row[j].kind != cellAlternative {
					continue
				}
				rule := alts[row[j].group]
				vals, skip := r.ResolveField(e, rule, i)
				if skip {
					dropped++
					continue alternatives
				}
				if rule.isConstant() {
					row[j] = cell{kind: cellLiteral, text: vals[0]}
					continue
				}
				row[j] = x.place(vals, rule, &group)
			}
			candidates = append(candidates, row)
		}
	}

	var rows []Row
	for _, cand := range candidates {
		rows = x.expand(cand, rows)
	}
	return Result{Rows: rows, Dropped: dropped}
}

// expand appends the rows produced by one candidate to out.
func (x *expansion) expand(cells []cell, out []Row) []Row {
	cur := make(Row, len(cells))
	seen := make(map[int]struct{})
	var groups []int
	for i, c := range cells {
		switch c.kind {
		case cellLiteral:
			cur[i] = c.text
		case cellData:
			if _, ok := seen[c.group]; !ok {
				seen[c.group] = struct{}{}
				groups = append(groups, c.group)
			}
		}
	}
	sort.Ints(groups)
	return x.fill(cells, groups, cur, out)
}

func (x *expansion) fill(cells []cell, groups []int, cur Row, out []Row) []Row {
	if len(groups) == 0 {
		return append(out, append(Row(nil), cur...))
	}

	gi := groups[0]
	g := x.groups[gi]
	n := g.width()

positions:
	for j := 0; j < n; j++ {
		for i, c := range cells {
			if c.kind != cellData || c.group != gi {
				continue
			}
			v, ok := g.cols[c.sub].at(j)
			if !ok {
				continue positions
			}
			cur[i] = v
		}
		out = x.fill(cells, groups[1:], cur, out)
	}
	return out
}
