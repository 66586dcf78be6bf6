package capture

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/crawl"
	"github.com/pagekeep/pagekeep/internal/detect"
	"github.com/pagekeep/pagekeep/internal/extract"
	"github.com/pagekeep/pagekeep/internal/jobs"
	"github.com/pagekeep/pagekeep/internal/queue/memory"
	"github.com/pagekeep/pagekeep/internal/ratelimit"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/testcrawl"
)

type seqIDs struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type harness struct {
	orch    *Orchestrator
	browser *browser.FakeBrowser
	tracker *jobs.Tracker
	store   *store.Store
	crawls  *testcrawl.Manager
	server  *httptest.Server
}

// newHarness builds a full pipeline over a fake browser and an httptest
// asset origin.
func newHarness(t *testing.T) *harness {
	t.Helper()

	mux := http.NewServeMux()
	serve := func(path, contentType, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", contentType)
			_, _ = w.Write([]byte(body))
		})
	}
	serve("/a.png", "image/png", "png-a")
	serve("/cdn/b.jpg", "image/jpeg", "jpg-b")
	serve("/cdn/b@2x.jpg", "image/jpeg", "jpg-b2x")
	serve("/s.css", "text/css", `@font-face { src: url("/f.woff2") format("woff2"); }`)
	serve("/f.woff2", "font/woff2", "woff2-bytes")
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ids := &seqIDs{}
	clock := realClock{}
	b := browser.NewFakeBrowser()

	st, err := store.New(store.Config{BaseDir: filepath.Join(t.TempDir(), "captures")}, ids, clock, nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())

	tracker := jobs.NewTracker(3, ids, clock, nil)
	crawls := testcrawl.New(crawl.New(b, detect.New(nil), nil, nil), ids, clock, nil)
	orch := New(b, tracker, st, ratelimit.New(time.Millisecond), crawls, Config{
		TempDir:             filepath.Join(t.TempDir(), "tmp"),
		DownloadConcurrency: 5,
	}, nil)

	return &harness{
		orch:    orch,
		browser: b,
		tracker: tracker,
		store:   st,
		crawls:  crawls,
		server:  server,
	}
}

// addArticle registers the S1-style page: two images (one with a srcset
// sibling), one stylesheet with an @font-face.
func (h *harness) addArticle(pageURL string) {
	origin := h.server.URL
	html := fmt.Sprintf(`<html><head><link rel="stylesheet" href="/s.css"></head>
<body><img src="/a.png"><img src="%s/cdn/b.jpg" srcset="%s/cdn/b.jpg 1x, %s/cdn/b@2x.jpg 2x"></body></html>`,
		origin, origin, origin)

	linkScript := detect.LinkScript()
	h.browser.AddPage(pageURL, &browser.FakePageData{
		Title: "Article",
		HTML:  html,
		Eval: func(script string) (any, error) {
			switch script {
			case crawl.LazyProbeScript:
				return false, nil
			case extract.ResourceScript:
				return map[string]any{
					"images": []string{
						origin + "/a.png",
						origin + "/cdn/b.jpg",
						origin + "/cdn/b@2x.jpg",
					},
					"stylesheets": []string{origin + "/s.css"},
					"scripts":     []string{},
				}, nil
			case linkScript:
				return map[string]any{"links": []string{}, "containerFound": true}, nil
			default:
				return nil, nil
			}
		},
	})
}

func (h *harness) waitJob(t *testing.T, jobID string) archive.CaptureJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.tracker.GetJob(jobID)
		require.NoError(t, err)
		if job.Status == archive.JobStatusCompleted || job.Status == archive.JobStatusFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", jobID)
	return archive.CaptureJob{}
}

func (h *harness) waitBatch(t *testing.T, batchID string) archive.BatchJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := h.tracker.GetBatch(batchID)
		require.NoError(t, err)
		switch batch.Status {
		case archive.BatchStatusCompleted, archive.BatchStatusPartial, archive.BatchStatusFailed:
			return batch
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s never finished", batchID)
	return archive.BatchJob{}
}

func TestSinglePageCapture(t *testing.T) {
	h := newHarness(t)
	pageURL := h.server.URL + "/article"
	h.addArticle(pageURL)

	jobID, err := h.orch.StartCapture(context.Background(), pageURL, archive.DefaultCaptureOptions())
	require.NoError(t, err)

	job := h.waitJob(t, jobID)
	require.Equal(t, archive.JobStatusCompleted, job.Status, "error: %s", job.Error)
	require.NotEmpty(t, job.OutputPath)
	assert.Equal(t, 100, job.Progress)

	htmlBytes, err := os.ReadFile(filepath.Join(job.OutputPath, "index.html"))
	require.NoError(t, err)
	html := string(htmlBytes)
	assert.Contains(t, html, `src="images/a.png"`)
	assert.Contains(t, html, `src="images/b.jpg"`)
	assert.Contains(t, html, `srcset="images/b.jpg 1x, images/b_2x.jpg 2x"`)
	assert.Contains(t, html, `href="css/s.css"`)

	cssBytes, err := os.ReadFile(filepath.Join(job.OutputPath, "css", "s.css"))
	require.NoError(t, err)
	assert.Contains(t, string(cssBytes), `url("../fonts/f.woff2")`)

	// Archive self-containment: every rewritten reference exists on disk.
	for _, rel := range []string{"images/a.png", "images/b.jpg", "images/b_2x.jpg", "css/s.css", "fonts/f.woff2"} {
		_, err := os.Stat(filepath.Join(job.OutputPath, rel))
		assert.NoError(t, err, rel)
	}

	assert.Equal(t, 3, job.Stats.Succeeded.Images)
	assert.Equal(t, 1, job.Stats.Succeeded.Stylesheets)
	assert.Equal(t, 1, job.Stats.Succeeded.Fonts)
	assert.Equal(t, 1, job.Stats.PagesProcessed)
	assert.Zero(t, job.Stats.Failed.Total())

	// The index lists the capture with matching metadata.
	captureID := filepath.Base(job.OutputPath)
	meta, _, err := h.store.Get(captureID)
	require.NoError(t, err)
	assert.Equal(t, "Article", meta.Title)
	assert.Equal(t, archive.ModeSinglePage, meta.CaptureMode)
	assert.Equal(t, 1, meta.Stats.TotalPages)
	assert.Equal(t, 3, meta.Stats.Images)
	assert.Equal(t, 1, meta.Stats.Fonts)

	listed, err := h.store.List(store.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, listed.Total)
	assert.Equal(t, captureID, listed.Captures[0].ID)
}

func TestMissingResourceDoesNotFailJob(t *testing.T) {
	h := newHarness(t)
	pageURL := h.server.URL + "/page"
	origin := h.server.URL

	linkScript := detect.LinkScript()
	h.browser.AddPage(pageURL, &browser.FakePageData{
		Title: "Page",
		HTML:  fmt.Sprintf(`<html><body><img src="%s/a.png"><img src="%s/missing.png"></body></html>`, origin, origin),
		Eval: func(script string) (any, error) {
			switch script {
			case crawl.LazyProbeScript:
				return false, nil
			case extract.ResourceScript:
				return map[string]any{
					"images": []string{origin + "/a.png", origin + "/missing.png"},
				}, nil
			case linkScript:
				return map[string]any{"links": []string{}}, nil
			default:
				return nil, nil
			}
		},
	})

	jobID, err := h.orch.StartCapture(context.Background(), pageURL, archive.DefaultCaptureOptions())
	require.NoError(t, err)
	job := h.waitJob(t, jobID)

	require.Equal(t, archive.JobStatusCompleted, job.Status)
	require.Len(t, job.Stats.Failed.Images, 1)
	assert.Equal(t, origin+"/missing.png", job.Stats.Failed.Images[0].URL)

	// The missing image keeps its remote URL in the archived HTML.
	html, err := os.ReadFile(filepath.Join(job.OutputPath, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), origin+"/missing.png")
}

func TestNavigationFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	jobID, err := h.orch.StartCapture(context.Background(), "https://dead.test/", archive.DefaultCaptureOptions())
	require.NoError(t, err)

	job := h.waitJob(t, jobID)
	assert.Equal(t, archive.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Empty(t, job.OutputPath)
}

func TestCaptureMultiPartialBatch(t *testing.T) {
	h := newHarness(t)
	good := h.server.URL + "/good"
	h.addArticle(good)

	batchID, err := h.orch.CaptureMulti(context.Background(), []string{good, "https://dead.test/x"},
		archive.DefaultCaptureOptions())
	require.NoError(t, err)

	batch := h.waitBatch(t, batchID)
	assert.Equal(t, archive.BatchStatusPartial, batch.Status)
	assert.Equal(t, archive.BatchSummary{Total: 2, Completed: 1, Failed: 1}, batch.Summary)
	assert.Equal(t, 50, batch.Progress)
}

func TestCaptureCurated(t *testing.T) {
	h := newHarness(t)

	// Five discovered pages; capture pages registered for the curated pick.
	seed := h.server.URL + "/p1"
	pages := make([]string, 0, 5)
	for i := 1; i <= 5; i++ {
		pages = append(pages, fmt.Sprintf("%s/p%d", h.server.URL, i))
	}
	for i, pageURL := range pages {
		links := []string{}
		if i == 0 {
			links = pages[1:]
		}
		h.browser.AddPage(pageURL, &browser.FakePageData{
			Title: fmt.Sprintf("P%d", i+1),
			HTML:  "<html><body>p</body></html>",
			Eval: func(script string) (any, error) {
				switch script {
				case crawl.DiscoveryScript:
					return map[string]any{
						"title": "p", "images": 0, "css": 0, "js": 0, "fonts": 0,
						"links": links, "htmlLen": 100,
					}, nil
				case crawl.LazyProbeScript:
					return false, nil
				case extract.ResourceScript:
					return map[string]any{}, nil
				default:
					return map[string]any{"links": []string{}}, nil
				}
			},
		})
	}

	crawlID, err := h.crawls.Start(context.Background(), seed, archive.DiscoveryOptions{Depth: 2, MaxPages: 10})
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for {
		session, err := h.crawls.GetStatus(crawlID)
		require.NoError(t, err)
		if session.Status == archive.CrawlStatusCompleted {
			break
		}
		require.NotEqual(t, archive.CrawlStatusFailed, session.Status, "crawl failed: %s", session.Error)
		require.True(t, time.Now().Before(deadline), "discovery never completed")
		time.Sleep(10 * time.Millisecond)
	}

	extra := h.server.URL + "/extra"
	h.addArticle(extra)

	batchID, err := h.orch.CaptureCurated(context.Background(), crawlID,
		[]string{pages[0], pages[2]}, // p1, p3
		[]string{extra},              // pX
		[]string{pages[0]},           // exclude p1
		archive.DefaultCaptureOptions())
	require.NoError(t, err)

	batch := h.waitBatch(t, batchID)
	assert.Equal(t, archive.BatchStatusCompleted, batch.Status)
	require.Len(t, batch.Members, 2)
	urls := []string{batch.Members[0].URL, batch.Members[1].URL}
	assert.ElementsMatch(t, []string{pages[2], extra}, urls)
}

func TestExportBatch(t *testing.T) {
	h := newHarness(t)
	good := h.server.URL + "/exported"
	h.addArticle(good)

	batchID, err := h.orch.CaptureMulti(context.Background(), []string{good}, archive.DefaultCaptureOptions())
	require.NoError(t, err)
	h.waitBatch(t, batchID)

	var buf bytes.Buffer
	require.NoError(t, h.orch.ExportBatch(batchID, &buf))

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var haveManifest, haveIndex bool
	for _, file := range reader.File {
		if file.Name == "manifest.json" {
			haveManifest = true
		}
		if strings.HasSuffix(file.Name, "/index.html") {
			haveIndex = true
		}
	}
	assert.True(t, haveManifest)
	assert.True(t, haveIndex)
}

func TestCaptureCuratedRequiresCompletedCrawl(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.CaptureCurated(context.Background(), "nope", []string{"https://a.test"}, nil, nil,
		archive.CaptureOptions{})
	assert.Error(t, err)
}

func TestQueueWorkerDispatch(t *testing.T) {
	h := newHarness(t)
	pageURL := h.server.URL + "/queued"
	h.addArticle(pageURL)

	q := memory.NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.orch.Run(ctx, q)

	require.NoError(t, q.Enqueue(ctx, archive.CaptureRequest{
		Kind:    archive.RequestSingle,
		URL:     pageURL,
		Options: archive.DefaultCaptureOptions(),
	}))

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, job := range h.tracker.ListJobs() {
			if job.URL == pageURL && job.Status == archive.JobStatusCompleted {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("queued capture never completed")
}
