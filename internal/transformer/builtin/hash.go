// Package builtin registers the standard value transforms.
//
// Import it for side effects:
//
//	import _ "catalogflat/internal/transformer/builtin"
package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"catalogflat/internal/config"
	"catalogflat/internal/mapping"
)

// Hash replaces a value with its SHA-256 digest in lowercase hex.
//
// JSON options (all optional):
//
//	{
//	  "kind": "hash",
//	  "options": {
//	    "salt": "catalog-v1",
//	    "length": 16,
//	    "trim_space": true,
//	    "empty_as_empty": true
//	  }
//	}
//
// Canonicalization rules:
//   - Salt is prepended with an ASCII unit separator (0x1f) so "ab"+"c" and
//     "a"+"bc" hash differently.
//   - TrimSpace trims leading/trailing whitespace before hashing (using
//     HasEdgeSpace to skip the work on already-clean values).
//   - EmptyAsEmpty keeps "" as "" instead of hashing it, so missing values stay
//     recognizable in the output file.
//   - Length > 0 truncates the hex digest to that many characters.
type Hash struct {
	Salt         string
	Length       int
	TrimSpace    bool
	EmptyAsEmpty bool
}

func newHash(opts config.Options) (mapping.TransformFunc, error) {
	h := Hash{
		Salt:         opts.String("salt", ""),
		Length:       opts.Int("length", 0),
		TrimSpace:    opts.Bool("trim_space", true),
		EmptyAsEmpty: opts.Bool("empty_as_empty", true),
	}
	if h.Length < 0 || h.Length > hex.EncodedLen(sha256.Size) {
		return nil, fmt.Errorf("length must be between 0 and %d, got %d", hex.EncodedLen(sha256.Size), h.Length)
	}
	return h.Apply, nil
}

// Apply returns the digest of v.
func (h Hash) Apply(v string) string {
	if h.TrimSpace && HasEdgeSpace(v) {
		v = strings.TrimSpace(v)
	}
	if v == "" && h.EmptyAsEmpty {
		return ""
	}

	var b strings.Builder
	b.Grow(len(h.Salt) + 1 + len(v))
	if h.Salt != "" {
		b.WriteString(h.Salt)
		b.WriteByte('\x1f')
	}
	b.WriteString(v)

	sum := sha256.Sum256([]byte(b.String()))
	out := hex.EncodeToString(sum[:])
	if h.Length > 0 {
		out = out[:h.Length]
	}
	return out
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isASCIISpace(s[0]) || isASCIISpace(s[len(s)-1])
}

func isASCIISpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
