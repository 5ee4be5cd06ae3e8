package multitable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"catalogflat/internal/config"
	"catalogflat/internal/feed"
	"catalogflat/internal/flatfile"
	"catalogflat/internal/mapping"
	"catalogflat/internal/metrics"
	"catalogflat/internal/storage"
)

// Runner wires a pipeline config to the engine: it builds the mappings, opens
// the output files and the optional database sink, and streams the feed.
type Runner struct {
	NewSource func(cfg config.Feed, job string, log *zap.Logger) (feed.Source, error)

	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	OpenFile func(path string, opts flatfile.Options) (RowSink, error)

	Logger *zap.Logger
}

// Result is what a successful or partially successful run produced.
type Result struct {
	Stats Stats

	// Missing holds the required-missing report lines, or "" when nothing
	// required was missing.
	Missing string

	Files []string
}

// NewDefaultRunner returns a Runner using the real feed, storage and file
// implementations.
func NewDefaultRunner(log *zap.Logger) *Runner {
	return &Runner{
		NewSource: feed.New,
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return storage.New(ctx, cfg)
		},
		OpenFile: func(path string, opts flatfile.Options) (RowSink, error) {
			return flatfile.Open(path, opts)
		},
		Logger: log,
	}
}

func (r *Runner) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run executes one export. Rows already written stay on disk when the feed
// fails midway. Sinks and the repository are closed on every path.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (res Result, err error) {
	log := r.log()

	primary := p.PrimaryTable()
	if primary < 0 {
		return res, fmt.Errorf("runner: no tables configured")
	}

	mappings := make([]*mapping.Mapping, len(p.Tables))
	for i, t := range p.Tables {
		m, err := BuildMapping(t)
		if err != nil {
			return res, err
		}
		mappings[i] = m
	}

	log.Info("• Checking output folder...")
	if err := os.MkdirAll(p.Output.Dir, 0o755); err != nil {
		return res, fmt.Errorf("output dir: %w", err)
	}

	var repo storage.Repository
	if p.Storage.Kind != "" {
		repo, err = r.openRepository(ctx, p, mappings)
		if err != nil {
			return res, err
		}
		defer func() {
			if cerr := repo.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("storage close: %w", cerr))
			}
		}()
	}

	log.Info("• Generating files...")
	report := NewMissingReport(log, p.PrimaryIDField, p.Log.LogMissingProperties)

	tables, files, err := r.openTables(ctx, p, mappings, repo, report)
	defer func() {
		if cerr := closeAll(tables); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close outputs: %w", cerr))
		}
	}()
	res.Files = files
	if err != nil {
		return res, err
	}

	src, err := r.NewSource(p.Feed, p.Job, log)
	if err != nil {
		return res, err
	}

	log.Info("• Sending requests and generating file contents...")
	eng := &Engine{
		Tables:  tables,
		Primary: primary,
		Report:  report,
		IDField: p.PrimaryIDField,
		Job:     p.Job,
		Logger:  log,
	}
	stats, err := eng.Run(ctx, src)
	res.Stats = stats
	res.Missing = report.String()

	log.Info("entities processed",
		zap.Int("entities", stats.Entities),
		zap.Int("skipped", stats.Skipped),
		zap.Int("dropped_alternatives", stats.Dropped),
		zap.Int("missing_optional", report.OptionalCount()),
		zap.Int("missing_required", report.RequiredCount()))

	if err != nil {
		return res, fmt.Errorf("resolve: %w", err)
	}
	return res, nil
}

func (r *Runner) openRepository(ctx context.Context, p config.Pipeline, mappings []*mapping.Mapping) (storage.Repository, error) {
	start := time.Now()

	repo, err := r.NewRepository(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		metrics.RecordStep(p.Job, "storage_open", err, time.Since(start))
		return nil, fmt.Errorf("storage (kind=%s): %w", p.Storage.Kind, err)
	}

	var specs []storage.TableSpec
	for i, t := range p.Tables {
		if t.DBTable == "" {
			continue
		}
		specs = append(specs, storage.TableSpec{Name: t.DBTable, Columns: mappings[i].Names()})
	}
	err = repo.EnsureTables(ctx, specs)
	metrics.RecordStep(p.Job, "storage_open", err, time.Since(start))
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

// openTables opens every table's sinks. On error the tables opened so far
// are returned so the caller can close them.
func (r *Runner) openTables(
	ctx context.Context,
	p config.Pipeline,
	mappings []*mapping.Mapping,
	repo storage.Repository,
	report *MissingReport,
) ([]Table, []string, error) {
	tables := make([]Table, 0, len(p.Tables))
	files := make([]string, 0, len(p.Tables))

	for i, t := range p.Tables {
		names := mappings[i].Names()
		path := filepath.Join(p.Output.Dir, t.FileName())

		w, err := r.OpenFile(path, flatfile.Options{
			Separator:   p.Output.SeparatorRune(),
			Header:      names,
			WriteHeader: t.Header,
			Encoding:    p.Output.Encoding,
		})
		if err != nil {
			return tables, files, fmt.Errorf("table %s: %w", t.Name, err)
		}
		files = append(files, path)

		var sink RowSink = w
		if repo != nil && t.DBTable != "" {
			ts, err := storage.NewTableSink(ctx, repo, storage.TableSpec{Name: t.DBTable, Columns: names}, 0)
			if err != nil {
				_ = w.Close()
				return tables, files, fmt.Errorf("table %s: %w", t.Name, err)
			}
			sink = Tee{w, ts}
		}

		tables = append(tables, Table{
			Name:     t.Name,
			Resolver: mapping.NewResolver(mappings[i], report),
			Sink:     sink,
		})
	}
	return tables, files, nil
}
