package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"catalogflat/internal/config"
	"catalogflat/internal/logging"
	"catalogflat/internal/metrics"
	"catalogflat/internal/metrics/datadog"
	"catalogflat/internal/metrics/prompush"
	"catalogflat/internal/multitable"
	"catalogflat/internal/notify"

	// register all backends with the storage factory.
	_ "catalogflat/internal/storage/all"
	_ "catalogflat/internal/transformer/builtin"
)

const (
	subjectFailed  = "Catalog export failed"
	subjectMissing = "Catalog export: missing properties"

	defaultPushgatewayURL = "http://localhost:9091"
)

// runner is the part of multitable.Runner the command uses.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) (multitable.Result, error)
}

// backendCloser is a metrics backend that must be closed to flush.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	LoadEnv    func(paths ...string) error
	LoadConfig func(path string) (config.Pipeline, error)
	NewLogger  func(opts logging.Options) (*zap.Logger, *logging.Journal, error)
	NewRunner  func(log *zap.Logger) runner
	Notifier   func(n config.Notify, recipients string, log *zap.Logger) notify.Notifier

	Datadog    func(ctx context.Context, opts datadog.Options) (backendCloser, error)
	Prometheus func(job, gatewayURL string) (metrics.Backend, error)
	Getenv     func(string) string
	Now        func() time.Time
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		LoadEnv:    config.LoadEnv,
		LoadConfig: config.LoadFile,
		NewLogger:  logging.New,
		NewRunner: func(log *zap.Logger) runner {
			return multitable.NewDefaultRunner(log)
		},
		Notifier: notify.For,
		Datadog: func(ctx context.Context, opts datadog.Options) (backendCloser, error) {
			return datadog.NewBackend(ctx, opts)
		},
		Prometheus: func(job, gatewayURL string) (metrics.Backend, error) {
			return prompush.NewBackend(job, gatewayURL)
		},
		Getenv: os.Getenv,
		Now:    time.Now,
	})
	stop()
	os.Exit(code)
}

type flags struct {
	ConfigPath     string
	EnvFile        string
	Validate       bool
	Verbose        bool
	MetricsBackend string
	PushgatewayURL string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("catalogflat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.ConfigPath, "config", "", "pipeline config path (.json, .yaml, .yml)")
	fs.StringVar(&f.EnvFile, "env", "", "dotenv file loaded before the config (default .env if present)")
	fs.BoolVar(&f.Validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&f.Verbose, "v", false, "enable debug logs")
	fs.StringVar(&f.MetricsBackend, "metrics-backend", "", "metrics backend: none, datadog or pushgateway (overrides env METRICS_BACKEND and config)")
	fs.StringVar(&f.PushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL and config)")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if strings.TrimSpace(f.ConfigPath) == "" {
		return f, errors.New("usage: catalogflat -config <path> [-env file] [-validate] [-v]")
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// run executes one export and returns an exit code.
//
// Exit codes:
//   - 0: success (or a valid config with -validate).
//   - 1: the export failed.
//   - 2: usage, configuration or initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	f, err := parseFlags(args, d.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(d.Stderr, err)
		}
		return 2
	}

	var envFiles []string
	if f.EnvFile != "" {
		envFiles = append(envFiles, f.EnvFile)
	}
	if err := d.LoadEnv(envFiles...); err != nil {
		fmt.Fprintf(d.Stderr, "load env: %v\n", err)
		return 2
	}

	p, err := d.LoadConfig(f.ConfigPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "load config: %v\n", err)
		return 2
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(d.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(d.Stderr, "configuration is invalid: %s\n", f.ConfigPath)
		return 2
	}
	if f.Validate {
		fmt.Fprintf(d.Stdout, "configuration is valid: %s\n", f.ConfigPath)
		return 0
	}

	level := p.Log.Level
	if f.Verbose {
		level = "debug"
	}
	log, journal, err := d.NewLogger(logging.Options{
		Dir:    p.Log.Dir,
		Level:  level,
		Format: p.Log.Format,
		Stderr: d.Stderr,
	})
	if err != nil {
		fmt.Fprintf(d.Stderr, "init logging: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	log.Info("• Initializing...")

	cleanup, err := initMetrics(ctx, log, d, p, f)
	if err != nil {
		log.Error("init metrics failed", zap.Error(err))
		fmt.Fprintf(d.Stderr, "init metrics: %v\n", err)
		return 2
	}
	defer cleanup()

	start := d.Now()
	res, err := d.NewRunner(log).Run(ctx, p)
	metrics.RecordStep(p.Job, "run", err, d.Now().Sub(start))

	if err != nil {
		log.Error("export failed", zap.Error(err))
		log.Info("• Fail =(")
		notifyFailure(ctx, log, d, p, journal)
		log.Info("----------------------------------------------------")
		return 1
	}

	if res.Missing != "" {
		reportMissing(ctx, log, d, p, res.Missing)
	}

	log.Info("• Success!",
		zap.Int("entities", res.Stats.Entities),
		zap.Int("skipped", res.Stats.Skipped),
		zap.Duration("elapsed", d.Now().Sub(start).Truncate(time.Millisecond)))
	log.Info("----------------------------------------------------")
	fmt.Fprintln(d.Stdout, "ok")
	return 0
}

func notifyFailure(ctx context.Context, log *zap.Logger, d deps, p config.Pipeline, journal *logging.Journal) {
	log.Info("• Sending email...")
	if strings.TrimSpace(p.Notify.EmailOnFail) == "" {
		log.Info("• Skipped (email not provided)")
		return
	}
	body := ""
	if journal != nil {
		body = journal.String()
	}
	if err := d.Notifier(p.Notify, p.Notify.EmailOnFail, log).Notify(ctx, subjectFailed, body); err != nil {
		log.Error("failure notification not sent", zap.Error(err))
		return
	}
	log.Info("• DONE")
}

func reportMissing(ctx context.Context, log *zap.Logger, d deps, p config.Pipeline, report string) {
	log.Info("• Reporting missing...")
	to := p.Notify.ReportTo
	if strings.TrimSpace(to) == "" {
		to = p.Notify.EmailOnFail
	}
	if err := d.Notifier(p.Notify, to, log).Notify(ctx, subjectMissing, report); err != nil {
		log.Error("missing-property report not sent", zap.Error(err))
		return
	}
	log.Info("• DONE")
}

// initMetrics installs the metrics backend and returns its cleanup. The
// backend is chosen by flag, then env METRICS_BACKEND, then config.
// cleanup is never nil.
func initMetrics(ctx context.Context, log *zap.Logger, d deps, p config.Pipeline, f flags) (func(), error) {
	backendName := f.MetricsBackend
	if backendName == "" {
		backendName = d.Getenv("METRICS_BACKEND")
	}
	if backendName == "" {
		backendName = p.Metrics.Backend
	}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "pushgateway", "prompush":
		gwURL := f.PushgatewayURL
		if gwURL == "" {
			gwURL = d.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = p.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = defaultPushgatewayURL
		}

		b, err := d.Prometheus(p.Job, gwURL)
		if err != nil {
			return func() {}, err
		}
		log.Debug("metrics backend ready", zap.String("backend", "pushgateway"), zap.String("url", gwURL))
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics: pushgateway flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}, nil

	case "datadog", "dd":
		tags := append([]string(nil), p.Metrics.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(d.Getenv("METRICS_TAGS"))...)

		b, err := d.Datadog(ctx, datadog.Options{
			JobName:    p.Job,
			Tags:       tags,
			FlushEvery: p.Metrics.FlushEvery.Duration,
		})
		if err != nil {
			return func() {}, err
		}
		log.Debug("metrics backend ready", zap.String("backend", "datadog"), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}, nil

	case "", "none", "noop":
		return func() {}, nil

	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", backendName))
		return func() {}, nil
	}
}
