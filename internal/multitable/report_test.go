package multitable

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"catalogflat/internal/entity"
)

func TestMissingReport_CountsWithoutLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := NewMissingReport(zap.New(core), "PrimaryID", false)

	if r.String() != "" {
		t.Fatalf("String()=%q, want empty report", r.String())
	}

	r.BeginEntity()
	r.OptionalMissing("description", entity.Entity{"PrimaryID": "P1"})
	r.OptionalMissing("tradePrice", entity.Entity{"PrimaryID": "P1"})
	r.RequiredMissing("countryOfOrigin", entity.Entity{"PrimaryID": "P1"})
	if n := r.EndEntity(); n != 2 {
		t.Fatalf("EndEntity()=%d, want 2", n)
	}

	r.BeginEntity()
	r.RequiredMissing("PrimaryID", entity.Entity{})
	if n := r.EndEntity(); n != 0 {
		t.Fatalf("EndEntity()=%d, want 0 after reset", n)
	}

	if logs.Len() != 0 {
		t.Fatalf("logged %d lines with optional logging off", logs.Len())
	}
	if r.OptionalCount() != 2 || r.RequiredCount() != 2 {
		t.Fatalf("counts=(%d,%d), want (2,2)", r.OptionalCount(), r.RequiredCount())
	}

	want := "- Property 'countryOfOrigin' does not exists for product P1\n" +
		"- Property 'PrimaryID' does not exists for product <no identifier>\n"
	if got := r.String(); got != want {
		t.Fatalf("String()=%q, want %q", got, want)
	}
}

func TestNewMissingReport_NilLogger(t *testing.T) {
	r := NewMissingReport(nil, "", true)
	r.BeginEntity()
	r.OptionalMissing("x", entity.Entity{})
	if r.EndEntity() != 1 {
		t.Fatalf("EndEntity() did not count with a nil logger")
	}
}
