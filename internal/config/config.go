// Package config defines the pipeline configuration consumed by cmd/catalogflat.
//
// A Pipeline describes where entities come from (Feed), where flat files go
// (Output), how the run is logged and reported (Log, Notify, Metrics), an
// optional database sink (Storage) and the ordered list of output tables with
// their column rules.
//
// Files may be JSON or YAML. Every string value may reference environment
// variables as ${NAME}; references are expanded before decoding.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the root of a config file.
type Pipeline struct {
	Job string `json:"job" yaml:"job"`

	// PrimaryIDField names the entity field used to identify products in
	// diagnostics and missing-field reports.
	PrimaryIDField string `json:"primary_id_field" yaml:"primary_id_field"`

	Feed    Feed    `json:"feed" yaml:"feed"`
	Output  Output  `json:"output" yaml:"output"`
	Log     Log     `json:"log" yaml:"log"`
	Notify  Notify  `json:"notify" yaml:"notify"`
	Storage Storage `json:"storage" yaml:"storage"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`

	Tables []Table `json:"tables" yaml:"tables"`
}

// Feed selects and configures the entity source.
type Feed struct {
	// Kind is "http" or "file".
	Kind string `json:"kind" yaml:"kind"`

	URL           string   `json:"url" yaml:"url"`
	Path          string   `json:"path" yaml:"path"`
	Authorization string   `json:"authorization" yaml:"authorization"`
	RetryCount    int      `json:"retry_count" yaml:"retry_count"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`

	// PageParam enables pagination: pages are requested as ?<page_param>=N
	// starting at FirstPage until a page yields no entities or MaxPages is hit.
	PageParam string `json:"page_param" yaml:"page_param"`
	FirstPage int    `json:"first_page" yaml:"first_page"`
	MaxPages  int    `json:"max_pages" yaml:"max_pages"`

	// Envelope names the root field holding the product array. Empty means
	// auto-detect.
	Envelope string `json:"envelope" yaml:"envelope"`

	// Aliases renames source fields before mapping (source -> canonical).
	Aliases map[string]string `json:"aliases" yaml:"aliases"`
}

// Output configures the flat files.
type Output struct {
	Dir       string `json:"dir" yaml:"dir"`
	Separator string `json:"separator" yaml:"separator"`
	Encoding  string `json:"encoding" yaml:"encoding"`
}

// SeparatorRune returns the configured separator, defaulting to '|'.
func (o Output) SeparatorRune() rune {
	if o.Separator == "" {
		return '|'
	}
	if o.Separator == `\t` {
		return '\t'
	}
	return []rune(o.Separator)[0]
}

// Log configures the diagnostic log.
type Log struct {
	Dir    string `json:"dir" yaml:"dir"`
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`

	// LogMissingProperties writes one line per optional field missing from
	// an entity. The per-product count is always kept.
	LogMissingProperties bool `json:"log_missing_properties" yaml:"log_missing_properties"`
}

// Notify configures failure and missing-field emails.
type Notify struct {
	EmailOnFail string `json:"email_on_fail" yaml:"email_on_fail"`
	ReportTo    string `json:"report_to" yaml:"report_to"`
	SMTPServer  string `json:"smtp_server" yaml:"smtp_server"`
	From        string `json:"from" yaml:"from"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
}

// Storage configures the optional database sink. An empty Kind disables it.
type Storage struct {
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
}

// Metrics configures the metrics backend.
type Metrics struct {
	// Backend is "none", "datadog" or "pushgateway".
	Backend        string   `json:"backend" yaml:"backend"`
	PushgatewayURL string   `json:"pushgateway_url" yaml:"pushgateway_url"`
	Tags           []string `json:"tags" yaml:"tags"`
	FlushEvery     Duration `json:"flush_every" yaml:"flush_every"`
}

// Table is one output table.
type Table struct {
	Name string `json:"name" yaml:"name"`

	// File is the output file name inside Output.Dir. Defaults to Name+".txt".
	File string `json:"file" yaml:"file"`

	// Header writes the column names as the first line.
	Header bool `json:"header" yaml:"header"`

	// Primary marks the gating table. When no table is marked, the first one is.
	Primary bool `json:"primary" yaml:"primary"`

	// DBTable is the destination table when Storage is enabled. Empty skips
	// the database for this table.
	DBTable string `json:"db_table" yaml:"db_table"`

	Columns []Column `json:"columns" yaml:"columns"`
}

// FileName returns the output file name for t.
func (t Table) FileName() string {
	if t.File != "" {
		return t.File
	}
	return t.Name + ".txt"
}

// Column pairs an output column name with its rule.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Rule Rule   `json:"rule" yaml:"rule"`
}

// Rule is the config form of a column rule. Exactly one of Const, Consts,
// Field or Fields must be set.
type Rule struct {
	Const  *string  `json:"const,omitempty" yaml:"const,omitempty"`
	Consts []string `json:"consts,omitempty" yaml:"consts,omitempty"`
	Field  string   `json:"field,omitempty" yaml:"field,omitempty"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`

	// Default replaces a missing value. Unset means "".
	Default *string `json:"default,omitempty" yaml:"default,omitempty"`

	// SkipIfMissing drops the entity (or the alternative) instead of using a default.
	SkipIfMissing bool `json:"skip_if_missing,omitempty" yaml:"skip_if_missing,omitempty"`

	// ArrayIndex selects one array element. Unset means 0.
	ArrayIndex *int `json:"array_index,omitempty" yaml:"array_index,omitempty"`

	// AllItems emits one row per array element.
	AllItems bool `json:"all_items,omitempty" yaml:"all_items,omitempty"`

	ReportIfMissing bool `json:"report_if_missing,omitempty" yaml:"report_if_missing,omitempty"`

	Transform []Transform `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// Kind names the rule shape, or "" when none or several are set.
func (r Rule) Kind() string {
	var kinds []string
	if r.Const != nil {
		kinds = append(kinds, "const")
	}
	if len(r.Consts) > 0 {
		kinds = append(kinds, "consts")
	}
	if r.Field != "" {
		kinds = append(kinds, "field")
	}
	if len(r.Fields) > 0 {
		kinds = append(kinds, "fields")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Transform is one step of a value transform chain.
type Transform struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Options is a loosely typed option bag. JSON numbers arrive as float64,
// YAML numbers as int; the accessors accept either.
type Options map[string]any

// Any returns the raw value for key.
func (o Options) Any(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o[key]
	return v, ok
}

// String returns key as a string, or def when absent or not a scalar.
func (o Options) String(key, def string) string {
	v, ok := o.Any(key)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool, int, int64, float64:
		return fmt.Sprint(t)
	default:
		return def
	}
}

// Int returns key as an int, or def when absent or not numeric.
func (o Options) Int(key string, def int) int {
	v, ok := o.Any(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Float returns key as a float64, or def when absent or not numeric.
func (o Options) Float(key string, def float64) float64 {
	v, ok := o.Any(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns key as a bool, or def when absent or unparsable.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o.Any(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// StringMap returns key as a map of strings. Non-string values are formatted
// with fmt.Sprint. A missing or non-object key returns nil.
func (o Options) StringMap(key string) map[string]string {
	v, ok := o.Any(key)
	if !ok {
		return nil
	}
	var src map[string]any
	switch t := v.(type) {
	case map[string]any:
		src = t
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return nil
	}
	out := make(map[string]string, len(src))
	for k, s := range src {
		if str, ok := s.(string); ok {
			out[k] = str
			continue
		}
		out[k] = fmt.Sprint(s)
	}
	return out
}

// Duration is a time.Duration that decodes from "90s"-style strings or from a
// number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: want string or seconds, got %s", string(b))
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!int" || n.Tag == "!!float" {
		secs, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	d.Duration = v
	return nil
}
