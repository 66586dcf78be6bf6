// Package testcrawl manages discovery-only crawl sessions: start, status,
// hierarchical listings, cancellation, and retention sweeps.
package testcrawl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/crawl"
)

// ErrCrawlNotFound is returned for unknown crawl ids.
var ErrCrawlNotFound = errors.New("test crawl not found")

// Manager owns active and finished test crawls.
type Manager struct {
	mu        sync.RWMutex
	crawls    map[string]*archive.TestCrawl
	cancelled map[string]bool

	crawler *crawl.Crawler
	ids     archive.IDGenerator
	clock   archive.Clock
	logger  *zap.Logger
}

// New constructs a Manager.
func New(crawler *crawl.Crawler, ids archive.IDGenerator, clock archive.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		crawls:    make(map[string]*archive.TestCrawl),
		cancelled: make(map[string]bool),
		crawler:   crawler,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Start launches a discovery crawl and returns its id immediately; the
// crawl runs in the background until it completes, fails, or is cancelled.
func (m *Manager) Start(ctx context.Context, seedURL string, opts archive.DiscoveryOptions) (string, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate crawl id: %w", err)
	}
	opts = opts.Normalized()
	session := &archive.TestCrawl{
		ID:        id,
		SeedURL:   seedURL,
		Options:   opts,
		Status:    archive.CrawlStatusCrawling,
		StartedAt: m.clock.Now(),
		Discovered: archive.DiscoveryResult{
			Pages:   []archive.DiscoveredPage{},
			ByDepth: map[int]int{},
		},
	}
	m.mu.Lock()
	m.crawls[id] = session
	m.mu.Unlock()

	go m.run(ctx, id, seedURL, opts)
	return id, nil
}

func (m *Manager) run(ctx context.Context, id, seedURL string, opts archive.DiscoveryOptions) {
	onPage := func(page archive.DiscoveredPage) {
		m.mu.Lock()
		defer m.mu.Unlock()
		session, ok := m.crawls[id]
		if !ok || session.Status != archive.CrawlStatusCrawling {
			return
		}
		session.Discovered.Pages = append(session.Discovered.Pages, page)
		session.Discovered.ByDepth[page.Depth]++
		session.Discovered.TotalEstimatedSize += page.EstimatedSize
		if opts.MaxPages > 0 {
			session.Progress = len(session.Discovered.Pages) * 100 / opts.MaxPages
			if session.Progress > 100 {
				session.Progress = 100
			}
		}
	}
	isCancelled := func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.cancelled[id]
	}

	err := m.crawler.Discover(ctx, seedURL, opts, onPage, isCancelled)

	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.crawls[id]
	if !ok || session.Status != archive.CrawlStatusCrawling {
		return
	}
	now := m.clock.Now()
	session.CompletedAt = &now
	switch {
	case errors.Is(err, archive.ErrCancelled):
		session.Status = archive.CrawlStatusFailed
		session.Error = archive.ErrCancelled.Error()
	case err != nil:
		session.Status = archive.CrawlStatusFailed
		session.Error = err.Error()
		m.logger.Warn("test crawl failed", zap.String("crawl_id", id), zap.Error(err))
	default:
		session.Status = archive.CrawlStatusCompleted
		session.Progress = 100
	}
}

// GetStatus returns a snapshot of the crawl.
func (m *Manager) GetStatus(id string) (archive.TestCrawl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.crawls[id]
	if !ok {
		return archive.TestCrawl{}, ErrCrawlNotFound
	}
	return *crawlSnapshot(session), nil
}

// DepthGroup is one level of the hierarchical page listing.
type DepthGroup struct {
	Depth int                      `json:"depth"`
	Pages []archive.DiscoveredPage `json:"pages"`
}

// Hierarchy is the shallow tree view of a crawl's discovered pages.
type Hierarchy struct {
	CrawlID            string              `json:"crawlId"`
	Status             archive.CrawlStatus `json:"status"`
	Levels             []DepthGroup        `json:"levels"`
	ByDepth            map[int]int         `json:"byDepth"`
	TotalEstimatedSize int64               `json:"totalEstimatedSize"`
}

// GetHierarchical groups the discovered pages by depth.
func (m *Manager) GetHierarchical(id string) (Hierarchy, error) {
	session, err := m.GetStatus(id)
	if err != nil {
		return Hierarchy{}, err
	}
	byDepth := make(map[int][]archive.DiscoveredPage)
	for _, page := range session.Discovered.Pages {
		byDepth[page.Depth] = append(byDepth[page.Depth], page)
	}
	depths := make([]int, 0, len(byDepth))
	for depth := range byDepth {
		depths = append(depths, depth)
	}
	sort.Ints(depths)
	levels := make([]DepthGroup, 0, len(depths))
	for _, depth := range depths {
		levels = append(levels, DepthGroup{Depth: depth, Pages: byDepth[depth]})
	}
	return Hierarchy{
		CrawlID:            session.ID,
		Status:             session.Status,
		Levels:             levels,
		ByDepth:            session.Discovered.ByDepth,
		TotalEstimatedSize: session.Discovered.TotalEstimatedSize,
	}, nil
}

// Cancel transitions a crawling session to failed with the cancellation
// reason. The BFS loop observes the flag at its next iteration.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.crawls[id]
	if !ok {
		return ErrCrawlNotFound
	}
	if session.Status != archive.CrawlStatusCrawling {
		return fmt.Errorf("crawl %s is %s, not crawling", id, session.Status)
	}
	m.cancelled[id] = true
	now := m.clock.Now()
	session.Status = archive.CrawlStatusFailed
	session.Error = archive.ErrCancelled.Error()
	session.CompletedAt = &now
	return nil
}

// Cleanup sweeps non-active crawls older than maxAge and returns how many
// were removed.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock.Now().Add(-maxAge)
	removed := 0
	for id, session := range m.crawls {
		if session.Status == archive.CrawlStatusCrawling {
			continue
		}
		finished := session.StartedAt
		if session.CompletedAt != nil {
			finished = *session.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(m.crawls, id)
			delete(m.cancelled, id)
			removed++
		}
	}
	return removed
}

func crawlSnapshot(session *archive.TestCrawl) *archive.TestCrawl {
	out := *session
	out.Discovered.Pages = append([]archive.DiscoveredPage{}, session.Discovered.Pages...)
	byDepth := make(map[int]int, len(session.Discovered.ByDepth))
	for depth, count := range session.Discovered.ByDepth {
		byDepth[depth] = count
	}
	out.Discovered.ByDepth = byDepth
	return &out
}
