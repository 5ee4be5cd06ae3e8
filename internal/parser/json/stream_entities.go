// Package json decodes entity feeds: JSON documents holding catalog products.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"catalogflat/internal/entity"
)

// Options tunes StreamEntities.
type Options struct {
	// Envelope names the root-object field holding the entity array. Empty
	// selects the first field whose array holds objects.
	Envelope string

	// Aliases renames source fields (original name -> canonical name) so a
	// mapping can use one field name across feeds. A field already present
	// under its canonical name is not overwritten.
	Aliases map[string]string
}

// StreamEntities decodes entities from r and hands them to emit one at a time,
// without buffering the whole document. It returns the number of entities
// emitted.
//
// Accepted shapes:
//   - A root array: each object element is one entity; null elements are skipped.
//   - A root object holding an array of objects (the envelope): each element of
//     that array is one entity and the other root fields are ignored.
//   - A root object without such an array: the object itself is one entity.
//   - Any of the above followed by more objects (JSON lines): each is one entity.
//
// Numbers are kept as json.Number so their literal text survives.
//
// onParseErr, when non-nil, is called with the 1-based index of the entity
// being decoded before a decode error is returned. An error returned by emit
// stops decoding and is returned unchanged.
func StreamEntities(
	ctx context.Context,
	r io.Reader,
	opts Options,
	emit func(entity.Entity) error,
	onParseErr func(index int, err error),
) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	s := &streamer{ctx: ctx, dec: dec, opts: opts, emit: emit, onParseErr: onParseErr}

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		s.parseErr(err)
		return 0, fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return 0, fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := s.array(); err != nil {
			return s.n, err
		}
		if err := s.expectDelim(']', "root array"); err != nil {
			return s.n, err
		}

	case '{':
		single, err := s.envelopeOrSingle()
		if err != nil {
			return s.n, err
		}
		if err := s.expectDelim('}', "root object"); err != nil {
			return s.n, err
		}
		if single != nil {
			if err := s.send(single); err != nil {
				return s.n, err
			}
		}

	default:
		return 0, fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	return s.n, s.trailing()
}

type streamer struct {
	ctx        context.Context
	dec        *json.Decoder
	opts       Options
	emit       func(entity.Entity) error
	onParseErr func(int, error)
	n          int
}

func (s *streamer) parseErr(err error) {
	if s.onParseErr != nil {
		s.onParseErr(s.n+1, err)
	}
}

func (s *streamer) send(obj map[string]any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	e := entity.Entity(obj)
	for from, to := range s.opts.Aliases {
		if v, ok := e[from]; ok {
			if _, taken := e[to]; !taken {
				e[to] = v
			}
		}
	}
	s.n++
	return s.emit(e)
}

func (s *streamer) expectDelim(want json.Delim, what string) error {
	tok, err := s.dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %s end: %w", what, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q closing %s, got %v", want, what, tok)
	}
	return nil
}

// trailing decodes JSON-lines objects following the root value.
func (s *streamer) trailing() error {
	for {
		var obj map[string]any
		if err := s.dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.parseErr(err)
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if obj == nil {
			continue
		}
		if err := s.send(obj); err != nil {
			return err
		}
	}
}

// array streams the elements of an array whose '[' has been consumed.
func (s *streamer) array() error {
	for s.dec.More() {
		var raw any
		if err := s.dec.Decode(&raw); err != nil {
			s.parseErr(err)
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			err := fmt.Errorf("json: array element not an object (got %T)", raw)
			s.parseErr(err)
			return err
		}
		if err := s.send(obj); err != nil {
			return err
		}
	}
	return nil
}

// envelopeOrSingle walks a root object whose '{' has been consumed.
//
// When it meets the envelope array it streams it, skips the remaining fields
// and returns nil. Otherwise it returns the materialized object so the caller
// can emit it as the only entity.
//
// Without an explicit Envelope, an array only counts as the envelope when its
// first element is an object; arrays of scalars (image URLs, tags) stay
// ordinary fields of a single entity.
func (s *streamer) envelopeOrSingle() (map[string]any, error) {
	single := make(map[string]any)
	explicit := s.opts.Envelope

	for s.dec.More() {
		keyTok, err := s.dec.Token()
		if err != nil {
			s.parseErr(err)
			return nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := s.dec.Token()
		if err != nil {
			s.parseErr(err)
			return nil, fmt.Errorf("json: read value of %q: %w", key, err)
		}

		isArray := valTok == json.Delim('[')

		switch {
		case explicit != "" && key == explicit:
			if !isArray {
				return nil, fmt.Errorf("json: envelope field %q is not an array", key)
			}
			if err := s.array(); err != nil {
				return nil, err
			}
			return nil, s.finishEnvelope(key)

		case explicit == "" && isArray:
			first, err := s.dec.Token()
			if err != nil {
				s.parseErr(err)
				return nil, fmt.Errorf("json: read first element of %q: %w", key, err)
			}
			if first == json.Delim('{') {
				obj, err := materialize(s.dec, first)
				if err != nil {
					s.parseErr(err)
					return nil, err
				}
				if err := s.send(obj.(map[string]any)); err != nil {
					return nil, err
				}
				if err := s.array(); err != nil {
					return nil, err
				}
				return nil, s.finishEnvelope(key)
			}
			arr, err := materializeArrayFrom(s.dec, first)
			if err != nil {
				s.parseErr(err)
				return nil, err
			}
			single[key] = arr

		default:
			v, err := materialize(s.dec, valTok)
			if err != nil {
				s.parseErr(err)
				return nil, err
			}
			single[key] = v
		}
	}

	if explicit != "" {
		return nil, fmt.Errorf("json: envelope field %q not found", explicit)
	}
	return single, nil
}

// finishEnvelope consumes the envelope's ']' and skips the rest of the root object.
func (s *streamer) finishEnvelope(key string) error {
	if err := s.expectDelim(']', fmt.Sprintf("envelope %q", key)); err != nil {
		return err
	}
	for s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			return fmt.Errorf("json: skip key after envelope: %w", err)
		}
		if err := skipNextValue(s.dec); err != nil {
			return err
		}
	}
	return nil
}

// skipNextValue consumes the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
	// closing delimiter
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("json: skip value end: %w", err)
	}
	return nil
}

// materialize builds the Go value whose first token has already been read.
func materialize(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested key not a string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: read nested object end: %w", err)
		}
		return m, nil

	case '[':
		first, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read nested array value: %w", err)
		}
		return materializeArrayFrom(dec, first)

	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeArrayFrom finishes an array whose '[' and first element token
// have been read. first may be the closing ']' of an empty array.
func materializeArrayFrom(dec *json.Decoder, first json.Token) ([]any, error) {
	arr := []any{}
	if first == json.Delim(']') {
		return arr, nil
	}
	v, err := materialize(dec, first)
	if err != nil {
		return nil, err
	}
	arr = append(arr, v)
	for dec.More() {
		vt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read nested array value: %w", err)
		}
		v, err := materialize(dec, vt)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read nested array end: %w", err)
	}
	return arr, nil
}
