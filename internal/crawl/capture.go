package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/metrics"
)

// Lazy-load trigger pacing: the page is scrolled in 500px steps with 200ms
// pauses so observers fire, then scrolled back to the top.
const (
	scrollStep  = 500
	scrollPause = 200 * time.Millisecond
)

// CaptureConfig parameterizes a capture-mode traversal.
type CaptureConfig struct {
	Depth          int
	MaxPages       int
	SameDomainOnly bool
	Timeout        time.Duration
	UserAgent      string
	Headers        map[string]string
	InlineStyles   bool
}

// CapturePages walks the site rooted at seed in capture mode and returns
// the page records in completion order; the seed page is always first.
// Per-page failures are recorded as unsuccessful pages and do not abort
// the crawl. onProgress fires after each page completes.
func (c *Crawler) CapturePages(
	ctx context.Context,
	seed string,
	cfg CaptureConfig,
	onProgress func(processed, total int),
) ([]archive.CapturedPage, error) {
	var (
		mu    sync.Mutex
		pages []archive.CapturedPage
	)
	record := func(page archive.CapturedPage) {
		mu.Lock()
		pages = append(pages, page)
		processed := len(pages)
		mu.Unlock()
		if onProgress != nil {
			onProgress(processed, cfg.MaxPages)
		}
	}

	action := func(ctx context.Context, item queueItem) ([]string, error) {
		page, err := c.capturePage(ctx, item, cfg)
		if err != nil {
			record(archive.CapturedPage{
				URL:   item.url,
				Depth: item.depth,
				Error: err.Error(),
			})
			return nil, err
		}
		metrics.ObservePage(page.URL, "capture")
		record(page)
		return page.Links, nil
	}

	err := c.traverse(ctx, seed, cfg.Depth, cfg.MaxPages, captureWorkers, cfg.SameDomainOnly, nil, action)
	if err != nil {
		return pages, err
	}
	return pages, nil
}

// CaptureSingle runs the capture node action for exactly one page.
func (c *Crawler) CaptureSingle(ctx context.Context, rawURL string, cfg CaptureConfig) (archive.CapturedPage, error) {
	page, err := c.capturePage(ctx, queueItem{url: rawURL, depth: 0}, cfg)
	if err != nil {
		return archive.CapturedPage{}, err
	}
	metrics.ObservePage(page.URL, "capture")
	return page, nil
}

// capturePage opens the URL with the full browser, triggers lazy loading,
// and gathers HTML, title, resources, and content-region links.
func (c *Crawler) capturePage(ctx context.Context, item queueItem, cfg CaptureConfig) (archive.CapturedPage, error) {
	page, err := c.browser.NewPage(ctx)
	if err != nil {
		return archive.CapturedPage{}, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			c.logger.Debug("close capture page", zap.Error(cerr))
		}
	}()

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(ctx, cfg.UserAgent); err != nil {
			return archive.CapturedPage{}, err
		}
	}
	if len(cfg.Headers) > 0 {
		if err := page.SetExtraHeaders(ctx, cfg.Headers); err != nil {
			return archive.CapturedPage{}, err
		}
	}

	if err := page.Navigate(ctx, item.url, browser.WaitNetworkIdle, cfg.Timeout); err != nil {
		return archive.CapturedPage{}, &archive.NavigationError{URL: item.url, Err: err}
	}

	if err := c.triggerLazyLoading(ctx, page); err != nil {
		c.logger.Debug("lazy-load scroll failed", zap.String("url", item.url), zap.Error(err))
	}

	resources, err := c.extractor.Extract(ctx, page, item.url, cfg.InlineStyles)
	if err != nil {
		return archive.CapturedPage{}, err
	}

	html, err := page.Content(ctx)
	if err != nil {
		return archive.CapturedPage{}, &archive.ExtractionError{URL: item.url, Err: err}
	}
	title, err := page.Title(ctx)
	if err != nil {
		return archive.CapturedPage{}, &archive.ExtractionError{URL: item.url, Err: err}
	}

	links, _, err := c.detector.ExtractLinks(ctx, page, item.url, cfg.SameDomainOnly)
	if err != nil {
		c.logger.Warn("content link extraction failed", zap.String("url", item.url), zap.Error(err))
		links = nil
	}

	return archive.CapturedPage{
		URL:       item.url,
		Depth:     item.depth,
		Title:     title,
		HTML:      html,
		Resources: *resources,
		Links:     links,
		Success:   true,
	}, nil
}

// triggerLazyLoading scrolls through the page when lazy-loaded images are
// present so their real sources materialize before extraction.
func (c *Crawler) triggerLazyLoading(ctx context.Context, page browser.Page) error {
	var hasLazy bool
	if err := page.Evaluate(ctx, LazyProbeScript, &hasLazy); err != nil {
		return err
	}
	if !hasLazy {
		return nil
	}

	var height int
	if err := page.Evaluate(ctx, `document.body ? document.body.scrollHeight : 0`, &height); err != nil {
		return err
	}
	for y := scrollStep; y < height; y += scrollStep {
		if err := page.Evaluate(ctx, fmt.Sprintf(`window.scrollTo(0, %d); undefined`, y), nil); err != nil {
			return err
		}
		pause(ctx, scrollPause)
	}
	if err := page.Evaluate(ctx, `window.scrollTo(0, 0); undefined`, nil); err != nil {
		return err
	}
	return nil
}

// LazyProbeScript reports whether the page contains lazily loaded images.
const LazyProbeScript = `(() => {
	return document.querySelector('img[loading="lazy"], img[data-src], img[data-lazy]') !== null;
})()`
