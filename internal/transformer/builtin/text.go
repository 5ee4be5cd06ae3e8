package builtin

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"catalogflat/internal/config"
	"catalogflat/internal/mapping"
)

// caseFactory builds upper/lower/title transforms. The optional "language"
// option selects locale rules (e.g. "tr" for dotted/dotless i).
//
// A cases.Caser keeps state between calls, so a fresh one is made per value.
func caseFactory(build func(language.Tag) cases.Caser) func(config.Options) (mapping.TransformFunc, error) {
	return func(opts config.Options) (mapping.TransformFunc, error) {
		tag := language.Und
		if lang := opts.String("language", ""); lang != "" {
			t, err := language.Parse(lang)
			if err != nil {
				return nil, fmt.Errorf("language %q: %w", lang, err)
			}
			tag = t
		}
		return func(v string) string {
			return build(tag).String(v)
		}, nil
	}
}

func newUpper(opts config.Options) (mapping.TransformFunc, error) {
	return caseFactory(func(t language.Tag) cases.Caser { return cases.Upper(t) })(opts)
}

func newLower(opts config.Options) (mapping.TransformFunc, error) {
	return caseFactory(func(t language.Tag) cases.Caser { return cases.Lower(t) })(opts)
}

func newTitle(opts config.Options) (mapping.TransformFunc, error) {
	return caseFactory(func(t language.Tag) cases.Caser { return cases.Title(t) })(opts)
}

// newNormalize applies a Unicode normalization form ("nfc" by default).
func newNormalize(opts config.Options) (mapping.TransformFunc, error) {
	var f norm.Form
	switch strings.ToLower(opts.String("form", "nfc")) {
	case "nfc":
		f = norm.NFC
	case "nfd":
		f = norm.NFD
	case "nfkc":
		f = norm.NFKC
	case "nfkd":
		f = norm.NFKD
	default:
		return nil, fmt.Errorf("unsupported form %q (nfc|nfd|nfkc|nfkd)", opts.String("form", ""))
	}
	return f.String, nil
}

// newPrefix prepends "value". Empty inputs stay empty unless "keep_empty" is false.
func newPrefix(opts config.Options) (mapping.TransformFunc, error) {
	p, ok := opts.Any("value")
	if !ok {
		return nil, fmt.Errorf("missing option %q", "value")
	}
	prefix := fmt.Sprint(p)
	keepEmpty := opts.Bool("keep_empty", true)
	return func(v string) string {
		if v == "" && keepEmpty {
			return v
		}
		return prefix + v
	}, nil
}

// newSuffix appends "value", with the same empty handling as newPrefix.
func newSuffix(opts config.Options) (mapping.TransformFunc, error) {
	s, ok := opts.Any("value")
	if !ok {
		return nil, fmt.Errorf("missing option %q", "value")
	}
	suffix := fmt.Sprint(s)
	keepEmpty := opts.Bool("keep_empty", true)
	return func(v string) string {
		if v == "" && keepEmpty {
			return v
		}
		return v + suffix
	}, nil
}

// newTruncate cuts values to at most "length" runes.
func newTruncate(opts config.Options) (mapping.TransformFunc, error) {
	n := opts.Int("length", 0)
	if n <= 0 {
		return nil, fmt.Errorf("length must be > 0, got %d", n)
	}
	return func(v string) string {
		if utf8.RuneCountInString(v) <= n {
			return v
		}
		i := 0
		for pos := range v {
			if i == n {
				return v[:pos]
			}
			i++
		}
		return v
	}, nil
}
