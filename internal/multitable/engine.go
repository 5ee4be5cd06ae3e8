// Package multitable coordinates a run: it feeds every entity through one
// resolver per output table, applies primary-table gating and fans the rows
// out to each table's sinks.
package multitable

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"catalogflat/internal/entity"
	"catalogflat/internal/feed"
	"catalogflat/internal/mapping"
	"catalogflat/internal/metrics"
)

// RowSink receives the resolved rows of one table. flatfile.Writer and
// storage.TableSink both satisfy it.
type RowSink interface {
	WriteRow(values []string) error
	Close() error
}

// Table is one output table as the engine sees it.
type Table struct {
	Name     string
	Resolver *mapping.Resolver
	Sink     RowSink
}

// Stats summarizes a run.
type Stats struct {
	Entities int
	Skipped  int
	Dropped  int
	Rows     map[string]int
}

// Engine drives the tables for each entity.
//
// The primary table gates the others: when it skips an entity, no other
// table sees that entity.
type Engine struct {
	Tables  []Table
	Primary int

	// Report, when set, is told where each entity starts and ends so it can
	// log per-entity summaries. Resolvers should share it as their Reporter.
	Report *MissingReport

	IDField string
	Job     string
	Logger  *zap.Logger

	stats Stats
}

// Stats returns the counters accumulated so far.
func (e *Engine) Stats() Stats {
	out := e.stats
	out.Rows = make(map[string]int, len(e.stats.Rows))
	for k, v := range e.stats.Rows {
		out.Rows[k] = v
	}
	return out
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) validate() error {
	if len(e.Tables) == 0 {
		return fmt.Errorf("engine: no tables")
	}
	if e.Primary < 0 || e.Primary >= len(e.Tables) {
		return fmt.Errorf("engine: primary table index %d out of range", e.Primary)
	}
	for i, t := range e.Tables {
		if t.Resolver == nil || t.Sink == nil {
			return fmt.Errorf("engine: table %d (%s) needs a resolver and a sink", i, t.Name)
		}
	}
	return nil
}

// Process resolves ent against every table and writes the rows. It reports
// whether the primary table skipped the entity.
func (e *Engine) Process(ent entity.Entity) (skipped bool, err error) {
	if e.stats.Rows == nil {
		e.stats.Rows = make(map[string]int, len(e.Tables))
	}
	if e.Report != nil {
		e.Report.BeginEntity()
		defer e.Report.EndEntity()
	}

	e.stats.Entities++

	primary := e.Tables[e.Primary]
	res := primary.Resolver.Resolve(ent)
	if res.Skipped {
		e.stats.Skipped++
		metrics.RecordEntity(e.Job, metrics.EntitySkipped)
		e.logger().Debug("entity skipped",
			zap.String("table", primary.Name),
			zap.String("id", ent.ID(e.IDField)))
		return true, nil
	}
	if err := e.write(primary, res); err != nil {
		return false, err
	}

	for i, t := range e.Tables {
		if i == e.Primary {
			continue
		}
		res := t.Resolver.Resolve(ent)
		if res.Skipped {
			continue
		}
		if err := e.write(t, res); err != nil {
			return false, err
		}
	}

	metrics.RecordEntity(e.Job, metrics.EntityProcessed)
	return false, nil
}

func (e *Engine) write(t Table, res mapping.Result) error {
	e.stats.Dropped += res.Dropped
	for _, row := range res.Rows {
		if err := t.Sink.WriteRow(row); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	e.stats.Rows[t.Name] += len(res.Rows)
	return nil
}

// Run pulls every entity from src and processes it. It stops at the first
// feed or sink error. Sinks are left open; the caller owns them.
func (e *Engine) Run(ctx context.Context, src feed.Source) (Stats, error) {
	if err := e.validate(); err != nil {
		return Stats{}, err
	}

	start := time.Now()
	err := src.Each(ctx, func(ent entity.Entity) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := e.Process(ent)
		return err
	})
	metrics.RecordStep(e.Job, "resolve", err, time.Since(start))

	for _, t := range e.Tables {
		metrics.RecordRows(e.Job, t.Name, e.stats.Rows[t.Name])
	}
	if e.Report != nil {
		metrics.RecordMissing(e.Job, metrics.MissingOptional, e.Report.OptionalCount())
		metrics.RecordMissing(e.Job, metrics.MissingRequired, e.Report.RequiredCount())
	}

	return e.Stats(), err
}
