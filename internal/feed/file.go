package feed

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"catalogflat/internal/entity"
	pjson "catalogflat/internal/parser/json"

	"go.uber.org/zap"
)

// FileSource reads entities from a local JSON document, typically a saved API
// response.
type FileSource struct {
	Path   string
	Parse  pjson.Options
	Logger *zap.Logger
}

// Each implements Source. An empty file is ErrNoData.
func (s *FileSource) Each(ctx context.Context, fn func(entity.Entity) error) error {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("feed: open %s: %w", s.Path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("feed: stat %s: %w", s.Path, err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w (%s is empty)", ErrNoData, s.Path)
	}

	n, err := pjson.StreamEntities(ctx, bufio.NewReaderSize(f, 1<<20), s.Parse, fn, func(index int, perr error) {
		log.Warn("entity decode failed", zap.String("path", s.Path), zap.Int("index", index), zap.Error(perr))
	})
	if err != nil {
		return err
	}
	log.Debug("file feed read", zap.String("path", s.Path), zap.Int("entities", n), zap.Int64("bytes", st.Size()))
	return nil
}
