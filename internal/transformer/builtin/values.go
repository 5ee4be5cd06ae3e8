package builtin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalogflat/internal/config"
	"catalogflat/internal/mapping"
)

// newReplaceMap maps whole values through "map".
//
// Options:
//   - map: object of from -> to (required)
//   - ignore_case: match keys case-insensitively
//   - default: replacement for unmatched values; when absent, unmatched values
//     pass through unchanged
//
// Example (media types):
//
//	{"kind": "replace_map", "options": {"map": {"JPEG": "IMG", "JPG": "IMG", "PNG": "IMG", "GIF": "IMG"}, "ignore_case": true}}
func newReplaceMap(opts config.Options) (mapping.TransformFunc, error) {
	m := opts.StringMap("map")
	if len(m) == 0 {
		return nil, fmt.Errorf("option %q must be a non-empty object", "map")
	}
	ignoreCase := opts.Bool("ignore_case", false)

	lookup := m
	if ignoreCase {
		lookup = make(map[string]string, len(m))
		for k, v := range m {
			lookup[strings.ToLower(k)] = v
		}
	}

	_, hasDefault := opts.Any("default")
	def := opts.String("default", "")

	return func(v string) string {
		key := v
		if ignoreCase {
			key = strings.ToLower(v)
		}
		if out, ok := lookup[key]; ok {
			return out
		}
		if hasDefault {
			return def
		}
		return v
	}, nil
}

// newScale multiplies numeric values by "multiplier" and divides them by
// "divisor" (grams to kilograms: divisor 1000). "precision" fixes the number
// of decimals; -1 (default) prints the shortest exact form. A "," decimal
// separator in the input is accepted. Non-numeric values pass through.
func newScale(opts config.Options) (mapping.TransformFunc, error) {
	div := opts.Float("divisor", 1)
	mul := opts.Float("multiplier", 1)
	prec := opts.Int("precision", -1)
	if div == 0 {
		return nil, fmt.Errorf("divisor must be non-zero")
	}
	if prec < -1 {
		return nil, fmt.Errorf("precision must be >= -1, got %d", prec)
	}

	return func(v string) string {
		s := strings.TrimSpace(v)
		if s == "" {
			return v
		}
		f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if err != nil {
			return v
		}
		return strconv.FormatFloat(f*mul/div, 'f', prec, 64)
	}, nil
}

// newStripHTML turns an HTML fragment (typically a product description) into
// plain text with whitespace runs collapsed to single spaces. Values that do
// not parse are returned unchanged.
func newStripHTML(config.Options) (mapping.TransformFunc, error) {
	return func(v string) string {
		if !strings.ContainsRune(v, '<') && !strings.ContainsRune(v, '&') {
			return v
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(v))
		if err != nil {
			return v
		}
		// Break before block-level elements so adjacent paragraphs do not fuse.
		doc.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr").Each(func(_ int, s *goquery.Selection) {
			s.BeforeHtml(" ")
		})
		return strings.Join(strings.Fields(doc.Text()), " ")
	}, nil
}
