// Package feed yields catalog entities from a remote API or a local file.
//
// Sources decode with parser/json.StreamEntities and hand entities to the
// caller one at a time; the caller decides what to do with each.
package feed

import (
	"context"
	"errors"
	"fmt"

	"catalogflat/internal/config"
	"catalogflat/internal/entity"
	pjson "catalogflat/internal/parser/json"

	"go.uber.org/zap"
)

// ErrNoData is returned when the feed produced no body at all: an empty file,
// an empty first response or a page whose attempts all failed.
var ErrNoData = errors.New("feed: server didn't return any data")

// Source yields entities lazily. Each stops at the first error returned by fn
// and returns it unchanged.
type Source interface {
	Each(ctx context.Context, fn func(entity.Entity) error) error
}

// New builds the Source described by cfg.
func New(cfg config.Feed, job string, log *zap.Logger) (Source, error) {
	parse := pjson.Options{Envelope: cfg.Envelope, Aliases: cfg.Aliases}

	switch cfg.Kind {
	case "http":
		return NewHTTPSource(HTTPOptions{
			URL:           cfg.URL,
			Authorization: cfg.Authorization,
			RetryCount:    cfg.RetryCount,
			Timeout:       cfg.Timeout.Duration,
			PageParam:     cfg.PageParam,
			FirstPage:     cfg.FirstPage,
			MaxPages:      cfg.MaxPages,
			Job:           job,
			Parse:         parse,
			Logger:        log,
		})
	case "file":
		return &FileSource{Path: cfg.Path, Parse: parse, Logger: log}, nil
	default:
		return nil, fmt.Errorf("feed: unsupported kind %q", cfg.Kind)
	}
}
