package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type fakeRepo struct {
	ensured  []TableSpec
	inserts  [][][]string
	tables   []string
	closed   int
	failNext error
}

func (f *fakeRepo) EnsureTables(_ context.Context, tables []TableSpec) error {
	f.ensured = append(f.ensured, tables...)
	return nil
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, _ []string, rows [][]string) (int64, error) {
	if err := f.failNext; err != nil {
		f.failNext = nil
		return 0, err
	}
	cp := make([][]string, len(rows))
	copy(cp, rows)
	f.inserts = append(f.inserts, cp)
	f.tables = append(f.tables, table)
	return int64(len(rows)), nil
}

func (f *fakeRepo) Close() error { f.closed++; return nil }

func registerFake(t *testing.T, kind string, repo *fakeRepo) {
	t.Helper()
	Register(kind, func(context.Context, Config) (Repository, error) { return repo, nil })
	t.Cleanup(func() {
		mu.Lock()
		delete(factories, kind)
		mu.Unlock()
	})
}

func TestNew_SelectsRegisteredBackend(t *testing.T) {
	repo := &fakeRepo{}
	registerFake(t, "fake", repo)

	got, err := New(context.Background(), Config{Kind: "fake", DSN: "x"})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if got != Repository(repo) {
		t.Fatalf("New() returned a different repository")
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New(empty kind) err=nil, want error")
	}
	_, err = New(context.Background(), Config{Kind: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "fake") {
		t.Fatalf("New(oracle) err=%v, want unsupported listing registered kinds", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	registerFake(t, "dup", &fakeRepo{})

	for _, tc := range []struct {
		name string
		kind string
		f    Factory
	}{
		{"empty", "", func(context.Context, Config) (Repository, error) { return nil, nil }},
		{"nil", "x", nil},
		{"duplicate", "dup", func(context.Context, Config) (Repository, error) { return nil, nil }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("Register(%q) did not panic", tc.kind)
				}
			}()
			Register(tc.kind, tc.f)
		})
	}
}

func TestSplitQualified(t *testing.T) {
	tests := []struct{ in, schema, table string }{
		{"catalog", "", "catalog"},
		{"export.catalog", "export", "catalog"},
		{" export . catalog ", "export", "catalog"},
		{"a.b.c", "", "a.b.c"},
	}
	for _, tc := range tests {
		s, tb := SplitQualified(tc.in)
		if s != tc.schema || tb != tc.table {
			t.Fatalf("SplitQualified(%q)=(%q,%q), want (%q,%q)", tc.in, s, tb, tc.schema, tc.table)
		}
	}
}

// TestTableSink_Batches checks that rows are inserted in batch-sized chunks,
// that the remainder goes out on Close, and that rows are copied on write.
func TestTableSink_Batches(t *testing.T) {
	repo := &fakeRepo{}
	sink, err := NewTableSink(context.Background(), repo, TableSpec{Name: "catalog", Columns: []string{"a", "b"}}, 2)
	if err != nil {
		t.Fatalf("NewTableSink() err=%v", err)
	}

	row := []string{"1", "x"}
	for i := 0; i < 5; i++ {
		if err := sink.WriteRow(row); err != nil {
			t.Fatalf("WriteRow() err=%v", err)
		}
		row[0] = "mutated"
	}
	if len(repo.inserts) != 2 {
		t.Fatalf("inserts before Close=%d, want 2", len(repo.inserts))
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if len(repo.inserts) != 3 || len(repo.inserts[2]) != 1 {
		t.Fatalf("inserts=%v, want 2+2+1", repo.inserts)
	}
	if !reflect.DeepEqual(repo.inserts[0][0], []string{"1", "x"}) {
		t.Fatalf("first row=%v, want copy taken before mutation", repo.inserts[0][0])
	}
	if sink.Inserted() != 5 {
		t.Fatalf("Inserted()=%d, want 5", sink.Inserted())
	}
	if repo.closed != 0 {
		t.Fatalf("sink closed the shared repository")
	}

	if err := sink.WriteRow(row); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("WriteRow after Close err=%v, want ErrSinkClosed", err)
	}
	if err := sink.Close(); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("second Close err=%v, want ErrSinkClosed", err)
	}
}

func TestTableSink_Errors(t *testing.T) {
	if _, err := NewTableSink(context.Background(), nil, TableSpec{Name: "t", Columns: []string{"a"}}, 0); err == nil {
		t.Fatalf("NewTableSink(nil repo) err=nil")
	}
	if _, err := NewTableSink(context.Background(), &fakeRepo{}, TableSpec{Name: "t"}, 0); err == nil {
		t.Fatalf("NewTableSink(no columns) err=nil")
	}

	boom := errors.New("boom")
	repo := &fakeRepo{failNext: boom}
	sink, _ := NewTableSink(context.Background(), repo, TableSpec{Name: "t", Columns: []string{"a"}}, 1)

	if err := sink.WriteRow([]string{"a", "b"}); err == nil {
		t.Fatalf("WriteRow(wrong width) err=nil")
	}
	if err := sink.WriteRow([]string{"a"}); !errors.Is(err, boom) {
		t.Fatalf("WriteRow() err=%v, want wrapping %v", err, boom)
	}
}
