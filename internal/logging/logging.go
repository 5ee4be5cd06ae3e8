// Package logging builds the run logger.
//
// A run logs to two places: a monthly journal file in the log directory
// (lines "dd.MM.yyyy HH:mm:ss - message") and stderr with the configured
// level and format. The journal also keeps the run's text in memory so a
// failure notification can carry it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimeLayout is the journal timestamp layout (dd.MM.yyyy HH:mm:ss).
const TimeLayout = "02.01.2006 15:04:05"

// Journal is a zapcore.WriteSyncer appending to <dir>/MM.yyyy.txt. The file
// is opened per write so a run spanning midnight at month end rolls over.
type Journal struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	buf strings.Builder
}

// NewJournal creates dir if needed.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	return &Journal{dir: dir, now: time.Now}, nil
}

// Path returns the file the next write goes to.
func (j *Journal) Path() string {
	return filepath.Join(j.dir, j.now().Format("01.2006")+".txt")
}

// Write appends p to the monthly file and the in-memory copy.
func (j *Journal) Write(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buf.Write(p)

	f, err := os.OpenFile(j.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Sync is a no-op; every Write closes its file.
func (j *Journal) Sync() error { return nil }

// String returns everything written during this run.
func (j *Journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.String()
}

// Options configures New.
type Options struct {
	Dir    string
	Level  string // debug|info|warn|error
	Format string // console|json, stderr only

	// Stderr defaults to os.Stderr.
	Stderr io.Writer

	// RunID is attached to every line; empty generates a UUID.
	RunID string
}

// New returns the run logger and its journal.
func New(opts Options) (*zap.Logger, *Journal, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if opts.Level == "" {
		level, err = zapcore.InfoLevel, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}

	j, err := NewJournal(opts.Dir)
	if err != nil {
		return nil, nil, err
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var errEnc zapcore.Encoder
	switch opts.Format {
	case "", "console":
		errEnc = zapcore.NewConsoleEncoder(stderrEncoderConfig())
	case "json":
		errEnc = zapcore.NewJSONEncoder(stderrEncoderConfig())
	default:
		return nil, nil, fmt.Errorf("logging: unsupported format %q", opts.Format)
	}

	// The journal keeps progress lines even when stderr is quieter.
	journalLevel := zapcore.InfoLevel
	if level < journalLevel {
		journalLevel = level
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(journalEncoderConfig()), j, journalLevel),
		zapcore.NewCore(errEnc, zapcore.Lock(zapcore.AddSync(stderr)), level),
	)

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return zap.New(core).With(zap.String("run_id", runID)), j, nil
}

// journalEncoderConfig writes "time - message[ - fields]".
func journalEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(TimeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
	}
}

func stderrEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}
