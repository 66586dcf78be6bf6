// Package download fetches page resources over HTTP with per-domain rate
// limiting, per-session deduplication, and archive-safe filename generation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/metrics"
	"github.com/pagekeep/pagekeep/internal/ratelimit"
)

// Defaults for the fetch policy.
const (
	defaultTimeout       = 30 * time.Second
	stylesheetTimeout    = 15 * time.Second
	maxRedirects         = 5
	defaultBatchSize     = 5
	defaultRetryAttempts = 3
	retryBackoffUnit     = time.Second
)

// Config parameterizes a per-capture download session.
type Config struct {
	// BaseURL resolves root-relative and path-relative resource URLs.
	BaseURL string
	// TempDir receives in-flight downloads before the store copies them
	// into the capture directory.
	TempDir string
	// UserAgent overrides the pool pick when set.
	UserAgent string
	// Headers are attached to every request.
	Headers map[string]string
	// BatchSize bounds bulk-mode parallelism (default 5).
	BatchSize int
	// RetryAttempts bounds DownloadWithRetry (default 3).
	RetryAttempts int
}

// Downloader fetches resources for one capture session. A URL downloaded
// twice within the session returns the same descriptor from the cache.
type Downloader struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]*archive.Resource
	names map[string]string
}

// New constructs a Downloader. The limiter is shared across sessions so
// per-domain spacing holds across concurrent captures.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Downloader, error) {
	if cfg.TempDir == "" {
		return nil, errors.New("temp dir is required")
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = PickUserAgent()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		base = parsed
	}

	client := &http.Client{
		Timeout: defaultTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Downloader{
		cfg:     cfg,
		base:    base,
		client:  client,
		limiter: limiter,
		logger:  logger,
		cache:   make(map[string]*archive.Resource),
		names:   make(map[string]string),
	}, nil
}

// UserAgent reports the identity this session presents to origins.
func (d *Downloader) UserAgent() string {
	return d.cfg.UserAgent
}

// Resolve normalizes a resource URL: scheme-relative URLs are promoted to
// https, root-relative URLs resolve against the base origin, path-relative
// URLs resolve against the base URL. Relative URLs without a base fail fast.
func (d *Downloader) Resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if d.base == nil {
		return "", fmt.Errorf("relative url %q without a base", raw)
	}
	return d.base.ResolveReference(u).String(), nil
}

// Download fetches one resource, writes the bytes to the session temp dir,
// and returns its descriptor. Failures wrap archive.DownloadError.
func (d *Downloader) Download(ctx context.Context, rawURL string, kind archive.ResourceKind) (*archive.Resource, error) {
	resolved, err := d.Resolve(rawURL)
	if err != nil {
		metrics.ObserveResource(string(kind), "failed")
		return nil, &archive.DownloadError{URL: rawURL, Err: err}
	}

	d.mu.Lock()
	if cached, ok := d.cache[resolved]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	body, contentType, err := d.fetch(ctx, resolved)
	if err != nil {
		metrics.ObserveResource(string(kind), "failed")
		return nil, &archive.DownloadError{URL: resolved, Err: err}
	}

	resource, err := d.persist(resolved, kind, body, contentType)
	if err != nil {
		metrics.ObserveResource(string(kind), "failed")
		return nil, &archive.DownloadError{URL: resolved, Err: err}
	}
	metrics.ObserveResource(string(kind), "succeeded")
	return resource, nil
}

// DownloadWithRetry wraps Download with up to the configured number of
// attempts, backing off one second per attempt already made.
func (d *Downloader) DownloadWithRetry(ctx context.Context, rawURL string, kind archive.ResourceKind) (*archive.Resource, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.RetryAttempts; attempt++ {
		resource, err := d.Download(ctx, rawURL, kind)
		if err == nil {
			return resource, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < d.cfg.RetryAttempts {
			if err := sleepCtx(ctx, retryBackoffUnit*time.Duration(attempt)); err != nil {
				break
			}
		}
	}
	return nil, lastErr
}

// BulkResult partitions a bulk download into its outcomes.
type BulkResult struct {
	Succeeded []*archive.Resource
	Failed    []archive.ResourceFailure
}

// DownloadAll fetches urls in parallel batches bounded by the configured
// batch size and returns the succeeded/failed partitions.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string, kind archive.ResourceKind) BulkResult {
	var (
		mu     sync.Mutex
		result BulkResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.BatchSize)
	for _, raw := range urls {
		g.Go(func() error {
			resource, err := d.DownloadWithRetry(gctx, raw, kind)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, archive.ResourceFailure{URL: raw, Error: err.Error()})
				d.logger.Debug("resource download failed",
					zap.String("url", raw),
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
				return nil
			}
			result.Succeeded = append(result.Succeeded, resource)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// FetchText retrieves a stylesheet body as text without persisting it or
// touching the session cache. Used for @font-face discovery.
func (d *Downloader) FetchText(ctx context.Context, rawURL string) (string, error) {
	resolved, err := d.Resolve(rawURL)
	if err != nil {
		return "", err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, stylesheetTimeout)
	defer cancel()
	body, _, err := d.fetch(fetchCtx, resolved)
	if err != nil {
		return "", fmt.Errorf("fetch stylesheet %s: %w", resolved, err)
	}
	return string(body), nil
}

// fetch performs a rate-limited GET. On HTTP 429 with a Retry-After header
// the hint is honored and the request retried once.
func (d *Downloader) fetch(ctx context.Context, resolved string) ([]byte, string, error) {
	body, contentType, retryAfter, err := d.get(ctx, resolved)
	if err == nil {
		return body, contentType, nil
	}

	var rateErr *archive.RateLimitError
	if errors.As(err, &rateErr) && retryAfter != "" {
		if _, waitErr := d.limiter.HandleRetryAfter(ctx, retryAfter); waitErr != nil {
			return nil, "", waitErr
		}
		body, contentType, _, err = d.get(ctx, resolved)
		if err == nil {
			return body, contentType, nil
		}
	}
	return nil, "", err
}

func (d *Downloader) get(ctx context.Context, resolved string) (body []byte, contentType, retryAfter string, err error) {
	if err := d.limiter.WaitForDomain(ctx, resolved); err != nil {
		return nil, "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	for key, value := range d.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = resp.Header.Get("Retry-After")
		return nil, "", retryAfter, &archive.RateLimitError{
			URL:        resolved,
			RetryAfter: ratelimit.ParseRetryAfter(retryAfter, time.Now()),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), "", nil
}

// persist writes the payload into the temp dir and registers the descriptor
// in the session cache, uniquifying filename collisions between distinct URLs.
func (d *Downloader) persist(resolved string, kind archive.ResourceKind, body []byte, contentType string) (*archive.Resource, error) {
	d.mu.Lock()
	name := Filename(resolved, contentType)
	if owner, taken := d.names[name]; taken && owner != resolved {
		ext := filepath.Ext(name)
		name = truncate(strings.TrimSuffix(name, ext) + "_" + hashPrefix(resolved, 8) + ext)
	}
	d.names[name] = resolved
	d.mu.Unlock()

	localPath := filepath.Join(d.cfg.TempDir, name)
	if err := os.WriteFile(localPath, body, 0o600); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	resource := &archive.Resource{
		URL:         resolved,
		LocalPath:   localPath,
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Kind:        kind,
	}
	d.mu.Lock()
	d.cache[resolved] = resource
	d.mu.Unlock()
	return resource, nil
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
