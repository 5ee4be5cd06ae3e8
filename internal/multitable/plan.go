package multitable

import (
	"fmt"

	"catalogflat/internal/config"
	"catalogflat/internal/mapping"
	"catalogflat/internal/transformer"
)

// BuildMapping turns one configured table into a validated mapping. Transform
// chains are built through the transformer registry, so the builtin package
// must be linked by the caller.
func BuildMapping(t config.Table) (*mapping.Mapping, error) {
	cols := make([]mapping.Column, 0, len(t.Columns))
	for i, c := range t.Columns {
		rule, err := buildRule(c.Rule)
		if err != nil {
			return nil, fmt.Errorf("table %s: column %d (%s): %w", t.Name, i, c.Name, err)
		}
		cols = append(cols, mapping.Column{Name: c.Name, Rule: rule})
	}
	m, err := mapping.NewMapping(cols...)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	return m, nil
}

func buildRule(r config.Rule) (*mapping.Rule, error) {
	switch r.Kind() {
	case "const":
		return mapping.Constant(*r.Const), nil
	case "consts":
		return mapping.ConstantList(r.Consts...)
	case "field", "fields":
		opts, err := ruleOptions(r)
		if err != nil {
			return nil, err
		}
		if r.Field != "" {
			return mapping.Field(r.Field, opts...), nil
		}
		return mapping.FieldList(r.Fields, opts...)
	default:
		return nil, fmt.Errorf("%w: exactly one of const, consts, field or fields must be set", mapping.ErrMalformedMapping)
	}
}

func ruleOptions(r config.Rule) ([]mapping.RuleOption, error) {
	var opts []mapping.RuleOption

	switch {
	case r.SkipIfMissing:
		opts = append(opts, mapping.SkipIfMissing())
	case r.Default != nil:
		opts = append(opts, mapping.WithDefault(*r.Default))
	}

	switch {
	case r.AllItems:
		opts = append(opts, mapping.AllItems())
	case r.ArrayIndex != nil:
		opts = append(opts, mapping.WithArrayIndex(*r.ArrayIndex))
	}

	if r.ReportIfMissing {
		opts = append(opts, mapping.ReportIfMissing())
	}

	if len(r.Transform) > 0 {
		fn, err := transformer.Build(r.Transform)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mapping.WithTransform(fn))
	}
	return opts, nil
}
