// Package flatfile writes delimiter-separated text files, one per output table.
//
// Values are written as-is: no quoting and no escaping. Callers are expected to
// hand over values that contain neither the separator nor line breaks.
package flatfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrClosed is returned by WriteRow and Close once the writer is closed.
var ErrClosed = errors.New("flatfile: writer closed")

// Options configures a Writer.
type Options struct {
	// Separator goes between columns. Zero means '|'.
	Separator rune

	// Header holds the column names. It is written first when WriteHeader is set.
	Header      []string
	WriteHeader bool

	// Encoding names the output character set (see LookupEncoding). Empty means utf-8.
	Encoding string
}

// LookupEncoding resolves an encoding name. Names are case-insensitive.
//
//	utf-8, utf8         no transformation
//	utf-8-bom           UTF-8 with a leading byte order mark
//	utf-16le, utf-16be  UTF-16 without a byte order mark
//	utf-16              little-endian UTF-16 with a byte order mark
//	windows-1252, cp1252
//	iso-8859-1, latin1
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "utf-8-bom", "utf8bom", "utf-8-sig":
		return unicode.UTF8BOM, nil
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "utf-16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("flatfile: unsupported encoding %q", name)
	}
}

// Writer appends rows to one table file. It is not safe for concurrent use.
type Writer struct {
	path string
	sep  string

	f   *os.File
	buf *bufio.Writer
	enc io.WriteCloser // nil for plain UTF-8
	out io.Writer

	rows   int
	closed bool
}

// Open creates (or truncates) the file at path, creating missing parent
// directories, and writes the header when requested.
func Open(path string, opts Options) (*Writer, error) {
	sep := opts.Separator
	if sep == 0 {
		sep = '|'
	}
	if sep == '\n' || sep == '\r' {
		return nil, fmt.Errorf("flatfile: invalid separator %q", sep)
	}

	enc, err := LookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("flatfile: create dir %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("flatfile: create %s: %w", path, err)
	}

	w := &Writer{
		path: path,
		sep:  string(sep),
		f:    f,
		buf:  bufio.NewWriterSize(f, 64*1024),
	}
	w.out = w.buf
	if enc != unicode.UTF8 {
		// Unrepresentable runes become the charset's replacement byte instead of
		// failing the whole file.
		e := encoding.ReplaceUnsupported(enc.NewEncoder())
		w.enc = transform.NewWriter(w.buf, e)
		w.out = w.enc
	}

	if opts.WriteHeader && len(opts.Header) > 0 {
		if err := w.writeLine(opts.Header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("flatfile: write header %s: %w", path, err)
		}
	}
	return w, nil
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Rows returns the number of data rows written (the header is not counted).
func (w *Writer) Rows() int { return w.rows }

// WriteRow writes values joined by the separator, followed by "\n".
func (w *Writer) WriteRow(values []string) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.writeLine(values); err != nil {
		return fmt.Errorf("flatfile: write %s: %w", w.path, err)
	}
	w.rows++
	return nil
}

func (w *Writer) writeLine(values []string) error {
	for i, v := range values {
		if i > 0 {
			if _, err := io.WriteString(w.out, w.sep); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w.out, v); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w.out, "\n")
	return err
}

// Close flushes buffered output and closes the file. The file is closed even
// when flushing fails.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	var errs []error
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("flatfile: close %s: %w", w.path, err)
	}
	return nil
}
