package mapping

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogflat/internal/entity"
)

// recordingReporter captures reporter callbacks in call order.
type recordingReporter struct {
	optional []string
	required []string
}

func (r *recordingReporter) OptionalMissing(field string, _ entity.Entity) {
	r.optional = append(r.optional, field)
}

func (r *recordingReporter) RequiredMissing(field string, _ entity.Entity) {
	r.required = append(r.required, field)
}

func mustMapping(t *testing.T, cols ...Column) *Mapping {
	t.Helper()
	m, err := NewMapping(cols...)
	require.NoError(t, err)
	return m
}

func mustFieldList(t *testing.T, names []string, opts ...RuleOption) *Rule {
	t.Helper()
	r, err := FieldList(names, opts...)
	require.NoError(t, err)
	return r
}

func mustConstantList(t *testing.T, vs ...string) *Rule {
	t.Helper()
	r, err := ConstantList(vs...)
	require.NoError(t, err)
	return r
}

func joined(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Join('|')
	}
	return out
}

func TestResolve_ConstantAndField(t *testing.T) {
	m := mustMapping(t,
		Column{Name: "ID", Rule: Field("id")},
		Column{Name: "Note", Rule: Constant("x")},
	)
	res := NewResolver(m, nil).Resolve(entity.Entity{"id": json.Number("7")})

	assert.False(t, res.Skipped)
	assert.Equal(t, []string{"7|x"}, joined(res.Rows))
}

func TestResolve_FieldListWithMissingAlternative(t *testing.T) {
	rep := &recordingReporter{}
	m := mustMapping(t,
		Column{Name: "ID", Rule: Field("id")},
		Column{Name: "Tag", Rule: mustFieldList(t, []string{"a", "b"}, WithDefault("0"))},
	)
	e := entity.Entity{"id": json.Number("1"), "a": "X"}

	res := NewResolver(m, rep).Resolve(e)

	assert.False(t, res.Skipped)
	assert.Equal(t, []string{"1|X", "1|0"}, joined(res.Rows))
	assert.Equal(t, []string{"b"}, rep.optional)
	assert.Empty(t, rep.required)
}

func TestResolve_UnindexedArrayExpandsRows(t *testing.T) {
	m := mustMapping(t,
		Column{Name: "ID", Rule: Field("id")},
		Column{Name: "Url", Rule: Field("imgs", AllItems(), WithDefault(""))},
	)
	e := entity.Entity{"id": json.Number("2"), "imgs": []any{"u1", "u2", "u3"}}

	res := NewResolver(m, nil).Resolve(e)

	assert.Equal(t, []string{"2|u1", "2|u2", "2|u3"}, joined(res.Rows))
}

func TestResolve_SkipWhenNoDefault(t *testing.T) {
	rep := &recordingReporter{}
	m := mustMapping(t,
		Column{Name: "X", Rule: Field("x", SkipIfMissing())},
		Column{Name: "Y", Rule: Field("y")},
	)

	res := NewResolver(m, rep).Resolve(entity.Entity{"y": "v"})

	assert.True(t, res.Skipped)
	assert.Empty(t, res.Rows)
	// No default means no optional-missing notification.
	assert.Empty(t, rep.optional)
}

func TestResolveField_Cases(t *testing.T) {
	upper := WithTransform(strings.ToUpper)

	tests := []struct {
		name     string
		rule     *Rule
		e        entity.Entity
		want     []string
		wantSkip bool
	}{
		{
			name: "scalar_trimmed_and_newlines_stripped",
			rule: Field("d"),
			e:    entity.Entity{"d": "  line1\r\nline2  "},
			want: []string{"line1line2"},
		},
		{
			name: "transform_applied_after_sanitize",
			rule: Field("d", upper),
			e:    entity.Entity{"d": " abc "},
			want: []string{"ABC"},
		},
		{
			name: "default_is_transformed_too",
			rule: Field("d", WithDefault(" n/a "), upper),
			e:    entity.Entity{},
			want: []string{"N/A"},
		},
		{
			name: "array_index_zero_by_default",
			rule: Field("a"),
			e:    entity.Entity{"a": []any{"first", "second"}},
			want: []string{"first"},
		},
		{
			name: "array_index_selected",
			rule: Field("a", WithArrayIndex(1)),
			e:    entity.Entity{"a": []any{"first", "second"}},
			want: []string{"second"},
		},
		{
			name: "array_index_out_of_range_uses_default",
			rule: Field("a", WithArrayIndex(5), WithDefault("none")),
			e:    entity.Entity{"a": []any{"first"}},
			want: []string{"none"},
		},
		{
			name:     "array_index_out_of_range_without_default_skips",
			rule:     Field("a", WithArrayIndex(5), SkipIfMissing()),
			e:        entity.Entity{"a": []any{"first"}},
			wantSkip: true,
		},
		{
			name: "all_items",
			rule: Field("a", AllItems()),
			e:    entity.Entity{"a": []any{"x", json.Number("2"), true}},
			want: []string{"x", "2", "true"},
		},
		{
			name: "all_items_empty_array_uses_default",
			rule: Field("a", AllItems(), WithDefault("-")),
			e:    entity.Entity{"a": []any{}},
			want: []string{"-"},
		},
		{
			name:     "all_items_empty_array_without_default_skips",
			rule:     Field("a", AllItems(), SkipIfMissing()),
			e:        entity.Entity{"a": []any{}},
			wantSkip: true,
		},
		{
			name: "json_null_is_present_and_empty",
			rule: Field("n", SkipIfMissing()),
			e:    entity.Entity{"n": nil},
			want: []string{""},
		},
		{
			name: "number_keeps_literal",
			rule: Field("p"),
			e:    entity.Entity{"p": json.Number("12.50")},
			want: []string{"12.50"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(mustMapping(t, Column{Name: "c", Rule: tc.rule}), nil)
			got, skip := r.ResolveField(tc.e, tc.rule, 0)
			assert.Equal(t, tc.wantSkip, skip)
			if !tc.wantSkip {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestResolveField_Notifications(t *testing.T) {
	t.Run("required_and_optional_when_default_set", func(t *testing.T) {
		rep := &recordingReporter{}
		rule := Field("code", ReportIfMissing())
		r := NewResolver(mustMapping(t, Column{Name: "c", Rule: rule}), rep)

		_, skip := r.ResolveField(entity.Entity{}, rule, 0)

		assert.False(t, skip)
		assert.Equal(t, []string{"code"}, rep.optional)
		assert.Equal(t, []string{"code"}, rep.required)
	})

	t.Run("required_only_when_skipping", func(t *testing.T) {
		rep := &recordingReporter{}
		rule := Field("code", ReportIfMissing(), SkipIfMissing())
		r := NewResolver(mustMapping(t, Column{Name: "c", Rule: rule}), rep)

		_, skip := r.ResolveField(entity.Entity{}, rule, 0)

		assert.True(t, skip)
		assert.Empty(t, rep.optional)
		assert.Equal(t, []string{"code"}, rep.required)
	})

	t.Run("present_field_never_reported", func(t *testing.T) {
		rep := &recordingReporter{}
		rule := Field("code", ReportIfMissing(), SkipIfMissing())
		r := NewResolver(mustMapping(t, Column{Name: "c", Rule: rule}), rep)

		_, skip := r.ResolveField(entity.Entity{"code": ""}, rule, 0)

		assert.False(t, skip)
		assert.Empty(t, rep.optional)
		assert.Empty(t, rep.required)
	})

	t.Run("out_of_range_array_is_not_missing", func(t *testing.T) {
		rep := &recordingReporter{}
		rule := Field("a", WithArrayIndex(3), ReportIfMissing())
		r := NewResolver(mustMapping(t, Column{Name: "c", Rule: rule}), rep)

		_, _ = r.ResolveField(entity.Entity{"a": []any{"x"}}, rule, 0)

		assert.Empty(t, rep.optional)
		assert.Empty(t, rep.required)
	})
}

// TestResolve_AttributesTable mirrors an attribute pivot: one row per
// attribute name, with attributes lacking a value dropped.
func TestResolve_AttributesTable(t *testing.T) {
	names := []string{"Type", "Color", "Size"}
	m := mustMapping(t,
		Column{Name: "ProductID", Rule: Field("PrimaryID")},
		Column{Name: "Name", Rule: mustConstantList(t, names...)},
		Column{Name: "Value", Rule: mustFieldList(t, names, SkipIfMissing())},
		Column{Name: "Sequence", Rule: Constant("1")},
	)
	e := entity.Entity{"PrimaryID": "P-1", "Type": "Pen", "Size": " XL "}

	res := NewResolver(m, nil).Resolve(e)

	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, []string{"P-1|Type|Pen|1", "P-1|Size|XL|1"}, joined(res.Rows))
}

// TestResolve_MediaLinksTable mirrors a media table where each alternative
// (images, datasheets) holds parallel arrays.
func TestResolve_MediaLinksTable(t *testing.T) {
	mediaType := func(v string) string {
		v = strings.ToUpper(v)
		switch v {
		case "JPEG", "JPG", "PNG", "GIF":
			return "IMG"
		}
		return v
	}

	m := mustMapping(t,
		Column{Name: "ProductId", Rule: Field("PrimaryID")},
		Column{Name: "MediaType", Rule: mustFieldList(t, []string{"imagesType", "datasheetType"}, WithTransform(mediaType), AllItems())},
		Column{Name: "Order", Rule: mustFieldList(t, []string{"imageSortOrder", "datasheetSortOrder"}, AllItems())},
		Column{Name: "Url", Rule: mustFieldList(t, []string{"imageURL", "datasheetURL"}, SkipIfMissing(), AllItems())},
	)
	r := NewResolver(m, nil)

	t.Run("both_alternatives", func(t *testing.T) {
		e := entity.Entity{
			"PrimaryID":          "P1",
			"imagesType":         []any{"jpg", "png"},
			"imageSortOrder":     []any{json.Number("1"), json.Number("2")},
			"imageURL":           []any{"u1", "u2"},
			"datasheetType":      []any{"pdf"},
			"datasheetSortOrder": []any{json.Number("1")},
			"datasheetURL":       []any{"d1"},
		}
		res := r.Resolve(e)
		assert.Equal(t, []string{"P1|IMG|1|u1", "P1|IMG|2|u2", "P1|PDF|1|d1"}, joined(res.Rows))
		assert.Zero(t, res.Dropped)
	})

	t.Run("missing_datasheet_drops_only_that_alternative", func(t *testing.T) {
		e := entity.Entity{
			"PrimaryID":      "P2",
			"imagesType":     []any{"gif"},
			"imageSortOrder": []any{json.Number("1")},
			"imageURL":       []any{"u1"},
		}
		res := r.Resolve(e)
		assert.False(t, res.Skipped)
		assert.Equal(t, 1, res.Dropped)
		assert.Equal(t, []string{"P2|IMG|1|u1"}, joined(res.Rows))
	})
}

func TestResolve_CrossProductOfDataGroups(t *testing.T) {
	m := mustMapping(t,
		Column{Name: "ID", Rule: Field("id")},
		Column{Name: "Img", Rule: Field("imgs", AllItems())},
		Column{Name: "Kind", Rule: mustFieldList(t, []string{"a_types", "b_types"}, AllItems())},
	)
	e := entity.Entity{
		"id":      json.Number("1"),
		"imgs":    []any{"x", "y"},
		"a_types": []any{"p", "q"},
		"b_types": "r",
	}

	res := NewResolver(m, nil).Resolve(e)

	assert.Equal(t, []string{
		"1|x|p", "1|x|q", "1|y|p", "1|y|q",
		"1|x|r", "1|y|r",
	}, joined(res.Rows))
}

func TestResolve_DataGroupPadding(t *testing.T) {
	t.Run("shorter_column_padded_with_default", func(t *testing.T) {
		m := mustMapping(t,
			Column{Name: "A", Rule: Field("a", AllItems())},
			Column{Name: "B", Rule: Field("b", AllItems(), WithDefault("-"))},
		)
		e := entity.Entity{"a": []any{"1", "2", "3"}, "b": []any{"x", "y"}}

		res := NewResolver(m, nil).Resolve(e)

		assert.Equal(t, []string{"1|x", "2|y", "3|-"}, joined(res.Rows))
	})

	t.Run("shorter_column_without_default_drops_positions", func(t *testing.T) {
		m := mustMapping(t,
			Column{Name: "A", Rule: Field("a", AllItems())},
			Column{Name: "B", Rule: Field("b", AllItems(), SkipIfMissing())},
		)
		e := entity.Entity{"a": []any{"1", "2", "3"}, "b": []any{"x", "y"}}

		res := NewResolver(m, nil).Resolve(e)

		assert.Equal(t, []string{"1|x", "2|y"}, joined(res.Rows))
	})
}

func TestResolve_SingleEntryListsBehaveLikeScalars(t *testing.T) {
	m := mustMapping(t,
		Column{Name: "N", Rule: mustConstantList(t, "only")},
		Column{Name: "V", Rule: mustFieldList(t, []string{"v"})},
	)

	res := NewResolver(m, nil).Resolve(entity.Entity{"v": "val"})

	assert.Equal(t, 0, m.Cardinality())
	assert.Equal(t, []string{"only|val"}, joined(res.Rows))
}

func TestResolve_AllAlternativesDroppedIsNotSkip(t *testing.T) {
	m := mustMapping(t,
		Column{Name: "ID", Rule: Field("id")},
		Column{Name: "V", Rule: mustFieldList(t, []string{"a", "b"}, SkipIfMissing())},
	)

	res := NewResolver(m, nil).Resolve(entity.Entity{"id": "1"})

	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Dropped)
	assert.Empty(t, res.Rows)
}

func TestResolve_AlternativeSkipStopsLaterNotifications(t *testing.T) {
	rep := &recordingReporter{}
	m := mustMapping(t,
		Column{Name: "V", Rule: mustFieldList(t, []string{"a", "b"}, SkipIfMissing())},
		Column{Name: "W", Rule: mustFieldList(t, []string{"c", "d"})},
	)

	res := NewResolver(m, rep).Resolve(entity.Entity{"b": "B"})

	// Alternative 0 stops at "a" before probing "c"; alternative 1 probes "d".
	assert.Equal(t, []string{"d"}, rep.optional)
	assert.Equal(t, []string{"B|"}, joined(res.Rows))
}
