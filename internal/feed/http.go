package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalogflat/internal/entity"
	"catalogflat/internal/metrics"
	pjson "catalogflat/internal/parser/json"

	"go.uber.org/zap"
)

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	URL           string
	Authorization string

	// RetryCount is the number of attempts per page, first attempt included.
	RetryCount int

	// Timeout bounds each attempt (request plus body).
	Timeout time.Duration

	// PageParam enables pagination with ?<PageParam>=N, starting at FirstPage.
	// MaxPages > 0 caps the number of pages requested.
	PageParam string
	FirstPage int
	MaxPages  int

	// BaseBackoff and MaxBackoff bound the exponential delay between
	// attempts. A 429 with Retry-After waits as instructed instead.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Job labels request metrics.
	Job string

	Parse  pjson.Options
	Client *http.Client
	Logger *zap.Logger

	// sleep waits d or until ctx is done; tests replace it.
	sleep func(ctx context.Context, d time.Duration) bool
}

// HTTPSource fetches entities from a JSON API, one page at a time.
type HTTPSource struct {
	opts HTTPOptions
	log  *zap.Logger
}

// NewHTTPSource validates opts and fills defaults.
func NewHTTPSource(opts HTTPOptions) (*HTTPSource, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed: invalid url %q", opts.URL)
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 4,
		}}
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPSource{opts: opts, log: log}, nil
}

// Each implements Source.
//
// Without pagination the URL is fetched once. With pagination pages are
// fetched in order until one decodes to zero entities, answers 404 or MaxPages
// is reached. Only the first response may not be empty.
func (s *HTTPSource) Each(ctx context.Context, fn func(entity.Entity) error) error {
	if s.opts.PageParam == "" {
		body, err := s.fetch(ctx, s.opts.URL)
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return ErrNoData
		}
		_, err = s.decode(ctx, s.opts.URL, body, fn)
		return err
	}

	for i := 0; s.opts.MaxPages <= 0 || i < s.opts.MaxPages; i++ {
		page := s.opts.FirstPage + i
		pageURL, err := withPage(s.opts.URL, s.opts.PageParam, page)
		if err != nil {
			return err
		}

		body, err := s.fetch(ctx, pageURL)
		if i > 0 && errors.Is(err, errNotFound) {
			s.log.Debug("feed pagination ended", zap.Int("page", page), zap.String("reason", "not found"))
			return nil
		}
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			if i == 0 {
				return ErrNoData
			}
			return nil
		}

		n, err := s.decode(ctx, pageURL, body, fn)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if n == 0 {
			s.log.Debug("feed pagination ended", zap.Int("page", page), zap.String("reason", "empty page"))
			return nil
		}
	}
	return nil
}

func (s *HTTPSource) decode(ctx context.Context, u string, body []byte, fn func(entity.Entity) error) (int, error) {
	return pjson.StreamEntities(ctx, bytes.NewReader(body), s.opts.Parse, fn, func(index int, err error) {
		s.log.Warn("entity decode failed", zap.String("url", u), zap.Int("index", index), zap.Error(err))
	})
}

var errNotFound = errors.New("feed: not found")

// attempt is the outcome of one request.
type attempt struct {
	status     int
	body       []byte
	err        error
	retryAfter time.Duration
}

// fetch GETs u with retries and returns the 2xx body.
//
// Transport errors, 408, 429 and 5xx are retried. Other statuses fail at
// once; 404 returns errNotFound. When every attempt fails the error wraps
// ErrNoData.
func (s *HTTPSource) fetch(ctx context.Context, u string) ([]byte, error) {
	var last attempt
	for n := 1; n <= s.opts.RetryCount; n++ {
		last = s.do(ctx, u)

		switch {
		case last.err == nil && last.status >= 200 && last.status < 300:
			return last.body, nil
		case last.status == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", errNotFound, u)
		case last.err == nil && !retryable(last.status):
			return nil, fmt.Errorf("feed: GET %s: unexpected status %d", u, last.status)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.log.Warn("feed request failed",
			zap.String("url", u),
			zap.Int("attempt", n),
			zap.Int("max_attempts", s.opts.RetryCount),
			zap.Int("http_code", last.status),
			zap.Error(last.err),
		)
		if n == s.opts.RetryCount {
			break
		}
		if !s.opts.sleep(ctx, nextRetryDelay(last, n, s.opts.BaseBackoff, s.opts.MaxBackoff)) {
			return nil, ctx.Err()
		}
	}

	cause := last.err
	if cause == nil {
		cause = fmt.Errorf("status %d", last.status)
	}
	return nil, fmt.Errorf("%w: GET %s failed after %d attempts: %v", ErrNoData, u, s.opts.RetryCount, cause)
}

// do performs a single bounded attempt and records its metrics.
func (s *HTTPSource) do(ctx context.Context, u string) attempt {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	reqDur, respDur, size := time.Duration(-1), time.Duration(-1), int64(-1)

	var a attempt
	defer func() {
		metrics.RecordHTTP(s.opts.Job, a.status, a.err, reqDur, respDur, size)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		a.err = err
		return a
	}
	req.Header.Set("Accept", "application/json")
	if s.opts.Authorization != "" {
		req.Header.Set("Authorization", s.opts.Authorization)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		a.err = err
		return a
	}
	defer resp.Body.Close()
	reqDur = time.Since(start)
	a.status = resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a.body, a.err = io.ReadAll(resp.Body)
		size = int64(len(a.body))
	} else {
		size, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			a.retryAfter = parseRetryAfter(resp.Header)
		}
	}
	respDur = time.Since(start)
	return a
}

func retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

func nextRetryDelay(a attempt, n int, base, max time.Duration) time.Duration {
	if a.status == http.StatusTooManyRequests && a.retryAfter > 0 {
		return a.retryAfter
	}
	d := base << uint(n-1)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// withPage sets param=page on raw's query, keeping other parameters.
func withPage(raw, param string, page int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("feed: invalid url %q: %w", raw, err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
