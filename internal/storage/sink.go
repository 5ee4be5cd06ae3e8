package storage

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBatchSize is the number of rows TableSink buffers before inserting.
const DefaultBatchSize = 500

// ErrSinkClosed is returned by TableSink after Close.
var ErrSinkClosed = errors.New("storage: sink closed")

// TableSink buffers rows for one table and inserts them in batches. It has
// the same WriteRow/Close shape as a flat-file writer so the engine can feed
// both.
//
// A TableSink is owned by one table and is not safe for concurrent use.
type TableSink struct {
	ctx   context.Context
	repo  Repository
	spec  TableSpec
	batch int

	buf      [][]string
	inserted int64
	closed   bool
}

// NewTableSink returns a sink for spec. ctx bounds every insert. batch <= 0
// uses DefaultBatchSize.
func NewTableSink(ctx context.Context, repo Repository, spec TableSpec, batch int) (*TableSink, error) {
	if repo == nil {
		return nil, fmt.Errorf("storage: nil repository")
	}
	if spec.Name == "" || len(spec.Columns) == 0 {
		return nil, fmt.Errorf("storage: table spec needs a name and columns")
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &TableSink{ctx: ctx, repo: repo, spec: spec, batch: batch}, nil
}

// Inserted reports rows the repository has accepted so far.
func (s *TableSink) Inserted() int64 { return s.inserted }

// WriteRow buffers a copy of values and inserts when the batch is full.
func (s *TableSink) WriteRow(values []string) error {
	if s.closed {
		return ErrSinkClosed
	}
	if len(values) != len(s.spec.Columns) {
		return fmt.Errorf("storage: %s: row has %d values, want %d", s.spec.Name, len(values), len(s.spec.Columns))
	}
	s.buf = append(s.buf, append([]string(nil), values...))
	if len(s.buf) >= s.batch {
		return s.flush()
	}
	return nil
}

func (s *TableSink) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	n, err := s.repo.InsertRows(s.ctx, s.spec.Name, s.spec.Columns, s.buf)
	s.inserted += n
	s.buf = s.buf[:0]
	if err != nil {
		return fmt.Errorf("storage: insert into %s: %w", s.spec.Name, err)
	}
	return nil
}

// Close inserts the remaining rows. The repository stays open; it is shared
// by every table and closed by its owner.
func (s *TableSink) Close() error {
	if s.closed {
		return ErrSinkClosed
	}
	s.closed = true
	return s.flush()
}
