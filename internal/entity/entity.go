// Package entity defines the decoded JSON records that flow from a feed into
// the mapping engine.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NoIdentifier is reported for entities that lack the primary identifier field.
const NoIdentifier = "<no identifier>"

// Entity is one decoded JSON object (e.g. one catalog product).
//
// Values are whatever the JSON decoder produced with UseNumber enabled:
// nil, string, json.Number, bool, []any or map[string]any. The engine treats
// an Entity as read-only.
type Entity map[string]any

// Lookup returns the raw value stored under field and whether it is present.
// A field explicitly set to JSON null is present with a nil value.
func (e Entity) Lookup(field string) (any, bool) {
	v, ok := e[field]
	return v, ok
}

// ID renders the primary identifier used in diagnostics.
func (e Entity) ID(field string) string {
	if field == "" {
		return NoIdentifier
	}
	v, ok := e[field]
	if !ok || v == nil {
		return NoIdentifier
	}
	return Stringify(v)
}

// Stringify renders a decoded JSON value as output text.
//
// Rules:
//   - strings are returned verbatim (no trimming here; callers sanitize)
//   - json.Number keeps its literal text, so "1.50" stays "1.50"
//   - bools render as "true"/"false"
//   - nil renders as ""
//   - nested arrays/objects render as compact JSON
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []any, map[string]any:
		return compactJSON(t)
	default:
		return fmt.Sprint(t)
	}
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
