package testcrawl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/crawl"
	"github.com/pagekeep/pagekeep/internal/detect"
)

type seqIDs struct {
	next int
}

func (g *seqIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("crawl-%04d", g.next), nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func discoveryEval(title string, links []string, htmlLen int) func(string) (any, error) {
	return func(string) (any, error) {
		return map[string]any{
			"title":   title,
			"images":  1,
			"css":     0,
			"js":      0,
			"fonts":   0,
			"links":   links,
			"htmlLen": htmlLen,
		}, nil
	}
}

func newTestManager(b *browser.FakeBrowser) *Manager {
	crawler := crawl.New(b, detect.New(nil), nil, nil)
	return New(crawler, &seqIDs{}, realClock{}, nil)
}

func waitForTerminal(t *testing.T, m *Manager, id string) archive.TestCrawl {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := m.GetStatus(id)
		require.NoError(t, err)
		if session.Status != archive.CrawlStatusCrawling {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("crawl never reached a terminal state")
	return archive.TestCrawl{}
}

func TestStartAndComplete(t *testing.T) {
	b := browser.NewFakeBrowser()
	b.AddPage("https://example.test/", &browser.FakePageData{
		Eval: discoveryEval("Home", []string{"https://example.test/p2"}, 1000),
	})
	b.AddPage("https://example.test/p2", &browser.FakePageData{
		Eval: discoveryEval("Page 2", nil, 500),
	})

	m := newTestManager(b)
	id, err := m.Start(context.Background(), "https://example.test/", archive.DiscoveryOptions{
		Depth: 2, MaxPages: 10, SameDomainOnly: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	session := waitForTerminal(t, m, id)
	assert.Equal(t, archive.CrawlStatusCompleted, session.Status)
	assert.Equal(t, 100, session.Progress)
	require.Len(t, session.Discovered.Pages, 2)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, session.Discovered.ByDepth)
	assert.Positive(t, session.Discovered.TotalEstimatedSize)
	require.NotNil(t, session.CompletedAt)
}

func TestGetHierarchical(t *testing.T) {
	b := browser.NewFakeBrowser()
	b.AddPage("https://example.test/", &browser.FakePageData{
		Eval: discoveryEval("Home", []string{"https://example.test/p2", "https://example.test/p3"}, 1000),
	})
	b.AddPage("https://example.test/p2", &browser.FakePageData{Eval: discoveryEval("P2", nil, 100)})
	b.AddPage("https://example.test/p3", &browser.FakePageData{Eval: discoveryEval("P3", nil, 100)})

	m := newTestManager(b)
	id, err := m.Start(context.Background(), "https://example.test/", archive.DiscoveryOptions{
		Depth: 2, MaxPages: 10,
	})
	require.NoError(t, err)
	waitForTerminal(t, m, id)

	tree, err := m.GetHierarchical(id)
	require.NoError(t, err)
	require.Len(t, tree.Levels, 2)
	assert.Equal(t, 0, tree.Levels[0].Depth)
	assert.Len(t, tree.Levels[0].Pages, 1)
	assert.Equal(t, 1, tree.Levels[1].Depth)
	assert.Len(t, tree.Levels[1].Pages, 2)
	assert.Equal(t, tree.ByDepth, map[int]int{0: 1, 1: 2})
}

func TestCancelDuringCrawl(t *testing.T) {
	release := make(chan struct{})
	b := browser.NewFakeBrowser()
	b.AddPage("https://example.test/", &browser.FakePageData{
		Eval: func(string) (any, error) {
			<-release
			return map[string]any{
				"title": "Slow", "images": 0, "css": 0, "js": 0, "fonts": 0,
				"links": []string{"https://example.test/p2"}, "htmlLen": 10,
			}, nil
		},
	})
	b.AddPage("https://example.test/p2", &browser.FakePageData{Eval: discoveryEval("P2", nil, 10)})

	m := newTestManager(b)
	id, err := m.Start(context.Background(), "https://example.test/", archive.DiscoveryOptions{
		Depth: 3, MaxPages: 10,
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	close(release)

	session := waitForTerminal(t, m, id)
	assert.Equal(t, archive.CrawlStatusFailed, session.Status)
	assert.Equal(t, "Cancelled by user", session.Error)

	// A finished crawl cannot be cancelled again.
	assert.Error(t, m.Cancel(id))
}

func TestCancelUnknownCrawl(t *testing.T) {
	m := newTestManager(browser.NewFakeBrowser())
	assert.ErrorIs(t, m.Cancel("nope"), ErrCrawlNotFound)
}

func TestCleanupSweepsFinishedCrawls(t *testing.T) {
	b := browser.NewFakeBrowser()
	b.AddPage("https://example.test/", &browser.FakePageData{Eval: discoveryEval("Home", nil, 10)})

	m := newTestManager(b)
	id, err := m.Start(context.Background(), "https://example.test/", archive.DiscoveryOptions{Depth: 1, MaxPages: 1})
	require.NoError(t, err)
	waitForTerminal(t, m, id)

	assert.Zero(t, m.Cleanup(time.Hour), "fresh crawls survive the sweep")
	assert.Equal(t, 1, m.Cleanup(0))
	_, err = m.GetStatus(id)
	assert.ErrorIs(t, err, ErrCrawlNotFound)
}
