package multitable

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"catalogflat/internal/entity"
	"catalogflat/internal/mapping"
)

type recordingSink struct {
	rows    []string
	closed  int
	failOn  int
	failErr error
}

func (s *recordingSink) WriteRow(values []string) error {
	if s.failErr != nil && len(s.rows)+1 == s.failOn {
		return s.failErr
	}
	s.rows = append(s.rows, strings.Join(values, "|"))
	return nil
}

func (s *recordingSink) Close() error { s.closed++; return nil }

type sliceSource []entity.Entity

func (s sliceSource) Each(ctx context.Context, fn func(entity.Entity) error) error {
	for _, e := range s {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

type failingSource struct {
	before []entity.Entity
	err    error
}

func (s failingSource) Each(ctx context.Context, fn func(entity.Entity) error) error {
	if err := (sliceSource(s.before)).Each(ctx, fn); err != nil {
		return err
	}
	return s.err
}

func mustMapping(t *testing.T, cols ...mapping.Column) *mapping.Mapping {
	t.Helper()
	m, err := mapping.NewMapping(cols...)
	if err != nil {
		t.Fatalf("NewMapping() err=%v", err)
	}
	return m
}

// catalogEngine builds the Catalog/Attributes pair used by most tests.
// Catalog is the primary table and needs PrimaryID.
func catalogEngine(t *testing.T, rep mapping.Reporter) (*Engine, *recordingSink, *recordingSink) {
	t.Helper()

	names, err := mapping.ConstantList("Color", "Size")
	if err != nil {
		t.Fatal(err)
	}
	values, err := mapping.FieldList([]string{"Color", "Size"}, mapping.SkipIfMissing())
	if err != nil {
		t.Fatal(err)
	}

	catalog := mustMapping(t,
		mapping.Column{Name: "Product Code", Rule: mapping.Field("PrimaryID", mapping.SkipIfMissing(), mapping.ReportIfMissing())},
		mapping.Column{Name: "Description", Rule: mapping.Field("description")},
	)
	attributes := mustMapping(t,
		mapping.Column{Name: "ProductID", Rule: mapping.Field("PrimaryID")},
		mapping.Column{Name: "Name", Rule: names},
		mapping.Column{Name: "Value", Rule: values},
		mapping.Column{Name: "Sequence", Rule: mapping.Constant("1")},
	)

	catSink, attrSink := &recordingSink{}, &recordingSink{}
	eng := &Engine{
		Tables: []Table{
			{Name: "Attributes", Resolver: mapping.NewResolver(attributes, rep), Sink: attrSink},
			{Name: "Catalog", Resolver: mapping.NewResolver(catalog, rep), Sink: catSink},
		},
		Primary: 1,
		IDField: "PrimaryID",
		Job:     "test",
	}
	return eng, catSink, attrSink
}

func TestEngine_PrimaryGatesSiblings(t *testing.T) {
	eng, catSink, attrSink := catalogEngine(t, nil)

	src := sliceSource{
		{"PrimaryID": "P1", "description": "Pen", "Color": "Blue", "Size": "M"},
		{"description": "no id", "Color": "Red"},
		{"PrimaryID": "P3", "Size": "XL"},
	}

	stats, err := eng.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	wantCat := []string{"P1|Pen", "P3|"}
	if !reflect.DeepEqual(catSink.rows, wantCat) {
		t.Fatalf("catalog rows=%v, want %v", catSink.rows, wantCat)
	}
	wantAttr := []string{"P1|Color|Blue|1", "P1|Size|M|1", "P3|Size|XL|1"}
	if !reflect.DeepEqual(attrSink.rows, wantAttr) {
		t.Fatalf("attribute rows=%v, want %v", attrSink.rows, wantAttr)
	}

	if stats.Entities != 3 || stats.Skipped != 1 {
		t.Fatalf("stats=%+v, want 3 entities, 1 skipped", stats)
	}
	if stats.Dropped != 1 {
		t.Fatalf("Dropped=%d, want 1 (P3 has no Color)", stats.Dropped)
	}
	if stats.Rows["Catalog"] != 2 || stats.Rows["Attributes"] != 3 {
		t.Fatalf("Rows=%v", stats.Rows)
	}
	if catSink.closed != 0 || attrSink.closed != 0 {
		t.Fatalf("engine must leave sinks open for the caller")
	}
}

func TestEngine_ProcessReportsSkip(t *testing.T) {
	eng, _, attrSink := catalogEngine(t, nil)

	skipped, err := eng.Process(entity.Entity{"Color": "Red"})
	if err != nil || !skipped {
		t.Fatalf("Process(no id)=(%v,%v), want (true,nil)", skipped, err)
	}
	if len(attrSink.rows) != 0 {
		t.Fatalf("sibling table saw a skipped entity: %v", attrSink.rows)
	}

	skipped, err = eng.Process(entity.Entity{"PrimaryID": "P9"})
	if err != nil || skipped {
		t.Fatalf("Process(P9)=(%v,%v), want (false,nil)", skipped, err)
	}
}

func TestEngine_SinkErrorStopsRun(t *testing.T) {
	eng, catSink, _ := catalogEngine(t, nil)
	boom := errors.New("disk full")
	catSink.failErr, catSink.failOn = boom, 2

	src := sliceSource{{"PrimaryID": "P1"}, {"PrimaryID": "P2"}, {"PrimaryID": "P3"}}
	stats, err := eng.Run(context.Background(), src)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() err=%v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "table Catalog") {
		t.Fatalf("Run() err=%v, want table name", err)
	}
	if stats.Entities != 2 {
		t.Fatalf("Entities=%d, want 2", stats.Entities)
	}
}

func TestEngine_FeedErrorKeepsWrittenRows(t *testing.T) {
	eng, catSink, _ := catalogEngine(t, nil)
	feedErr := errors.New("page 2: connection reset")

	_, err := eng.Run(context.Background(), failingSource{
		before: []entity.Entity{{"PrimaryID": "P1"}},
		err:    feedErr,
	})
	if !errors.Is(err, feedErr) {
		t.Fatalf("Run() err=%v, want %v", err, feedErr)
	}
	if len(catSink.rows) != 1 {
		t.Fatalf("rows=%v, want the row written before the failure", catSink.rows)
	}
}

func TestEngine_Validate(t *testing.T) {
	m := mustMapping(t, mapping.Column{Name: "a", Rule: mapping.Constant("x")})
	ok := Table{Name: "t", Resolver: mapping.NewResolver(m, nil), Sink: &recordingSink{}}

	tests := []struct {
		name string
		eng  Engine
	}{
		{"no tables", Engine{}},
		{"primary out of range", Engine{Tables: []Table{ok}, Primary: 1}},
		{"negative primary", Engine{Tables: []Table{ok}, Primary: -1}},
		{"missing sink", Engine{Tables: []Table{{Name: "t", Resolver: ok.Resolver}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.eng.Run(context.Background(), sliceSource{}); err == nil {
				t.Fatalf("Run() err=nil, want validation error")
			}
		})
	}
}

func TestEngine_MissingReportPerEntity(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	report := NewMissingReport(zap.New(core), "PrimaryID", true)

	eng, _, _ := catalogEngine(t, report)
	eng.Report = report

	src := sliceSource{
		{"PrimaryID": "P1", "description": "Pen", "Color": "Blue", "Size": "M"},
		{"Color": "Red"},
		{"PrimaryID": "P3", "Size": "XL"},
	}
	if _, err := eng.Run(context.Background(), src); err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	want := []string{
		"Property 'description' does not exists",
		"(1 missing)",
		"--------------------------",
	}
	if !reflect.DeepEqual(msgs, want) {
		t.Fatalf("log=%q, want %q", msgs, want)
	}

	wantReport := "- Property 'PrimaryID' does not exists for product <no identifier>\n"
	if got := report.String(); got != wantReport {
		t.Fatalf("report=%q, want %q", got, wantReport)
	}
	if report.OptionalCount() != 1 || report.RequiredCount() != 1 {
		t.Fatalf("counts=(%d,%d), want (1,1)", report.OptionalCount(), report.RequiredCount())
	}
}
