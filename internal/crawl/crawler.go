// Package crawl implements the BFS traversal shared by discovery and
// capture modes. Discovery gathers page metadata without downloading
// assets; capture loads pages fully and enumerates their resources.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/detect"
	"github.com/pagekeep/pagekeep/internal/extract"
)

// Worker widths per mode: discovery stays single-file for politeness,
// capture runs three page actions in parallel.
const (
	discoveryWorkers = 1
	captureWorkers   = 3
)

// Crawler drives BFS traversals through the browser capability.
type Crawler struct {
	browser   browser.Browser
	detector  *detect.Detector
	extractor *extract.Extractor
	logger    *zap.Logger
}

// New constructs a Crawler. The extractor may be nil for discovery-only use.
func New(b browser.Browser, detector *detect.Detector, extractor *extract.Extractor, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		browser:   b,
		detector:  detector,
		extractor: extractor,
		logger:    logger,
	}
}

type queueItem struct {
	url   string
	depth int
}

// nodeAction processes one BFS node and returns the child links to expand.
type nodeAction func(ctx context.Context, item queueItem) ([]string, error)

// traverse is the shared BFS skeleton. It pops up to `workers` items per
// iteration and processes them concurrently; child links are enqueued
// unless already visited, off-domain, or beyond maxDepth. It stops when
// the queue drains, the page budget is reached, the context ends, or
// cancelled reports true at the top of the loop.
func (c *Crawler) traverse(
	ctx context.Context,
	seed string,
	maxDepth, maxPages, workers int,
	sameDomainOnly bool,
	cancelled func() bool,
	action nodeAction,
) error {
	seedHost := hostnameOf(seed)
	visited := newVisitTracker()
	visited.MarkIfNew(detect.NormalizeLink(seed))

	queue := []queueItem{{url: seed, depth: 0}}
	processed := 0

	for len(queue) > 0 && processed < maxPages {
		if cancelled != nil && cancelled() {
			return archive.ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		batchSize := workers
		if remaining := maxPages - processed; batchSize > remaining {
			batchSize = remaining
		}
		if batchSize > len(queue) {
			batchSize = len(queue)
		}
		batch := queue[:batchSize]
		queue = queue[batchSize:]

		var (
			mu       sync.Mutex
			children []queueItem
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, item := range batch {
			g.Go(func() error {
				links, err := action(gctx, item)
				if err != nil {
					c.logger.Warn("page action failed",
						zap.String("url", item.url),
						zap.Int("depth", item.depth),
						zap.Error(err),
					)
					return nil
				}
				childDepth := item.depth + 1
				if childDepth > maxDepth {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				for _, link := range links {
					norm := detect.NormalizeLink(link)
					if sameDomainOnly && !strings.EqualFold(hostnameOf(norm), seedHost) {
						continue
					}
					if !visited.MarkIfNew(norm) {
						continue
					}
					children = append(children, queueItem{url: norm, depth: childDepth})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("traverse batch: %w", err)
		}
		processed += len(batch)
		queue = append(queue, children...)
	}
	return nil
}

// visitTracker provides thread-safe visited URL tracking to prevent revisits.
type visitTracker struct {
	seen sync.Map
}

func newVisitTracker() *visitTracker {
	return &visitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// pause blocks for delay or until the context ends.
func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
