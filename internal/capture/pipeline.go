package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/crawl"
	"github.com/pagekeep/pagekeep/internal/download"
	"github.com/pagekeep/pagekeep/internal/extract"
	"github.com/pagekeep/pagekeep/internal/store"
)

// Progress milestones inside one capture. Multi-page crawls spend the
// first half of the bar on traversal.
const (
	progressNavigated  = 10
	progressExtracted  = 30
	progressCrawlSpan  = 50
	progressDownloaded = 80
	progressRewritten  = 90
)

// capture runs the full pipeline for one job and returns the capture
// directory path. Ordering: all resource downloads complete before HTML
// rewriting begins; CSS rewriting runs after every download so
// inter-resource references resolve; persistence runs last.
func (o *Orchestrator) capture(ctx context.Context, jobID, pageURL string, opts archive.CaptureOptions) (string, error) {
	tempDir := filepath.Join(o.cfg.TempDir, jobID)
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			o.logger.Warn("remove job temp dir", zap.String("dir", tempDir), zap.Error(err))
		}
	}()

	dl, err := download.New(download.Config{
		BaseURL:   pageURL,
		TempDir:   tempDir,
		UserAgent: opts.UserAgent,
		Headers:   opts.Headers,
		BatchSize: o.cfg.DownloadConcurrency,
	}, o.limiter, o.logger)
	if err != nil {
		return "", fmt.Errorf("init download session: %w", err)
	}

	extractor := extract.New(dl, o.logger)
	crawler := crawl.New(o.browser, o.detector, extractor, o.logger)
	captureCfg := crawl.CaptureConfig{
		Depth:          opts.MultiPage.Depth,
		MaxPages:       opts.MultiPage.MaxPages,
		SameDomainOnly: opts.MultiPage.SameDomainOnly,
		Timeout:        opts.Timeout,
		UserAgent:      dl.UserAgent(),
		Headers:        opts.Headers,
		InlineStyles:   opts.InlineStyles,
	}

	pages, err := o.loadPages(ctx, jobID, pageURL, opts, crawler, captureCfg)
	if err != nil {
		return "", err
	}

	urlMap, resources, favicon := o.downloadResources(ctx, jobID, dl, pages)
	_ = o.tracker.UpdateProgress(jobID, progressDownloaded)

	_ = o.tracker.BeginStep(jobID, stepRewrite)
	for _, resource := range resources {
		if resource.Kind != archive.KindStylesheet {
			continue
		}
		if err := o.rewriter.RewriteCSSFile(resource.LocalPath, resource.URL, urlMap); err != nil {
			o.logger.Warn("stylesheet rewrite failed",
				zap.String("url", resource.URL),
				zap.Error(err),
			)
		}
	}
	root, extras := o.rewritePages(pages, urlMap)
	_ = o.tracker.UpdateProgress(jobID, progressRewritten)

	_ = o.tracker.BeginStep(jobID, stepPersist)
	mode := archive.ModeSinglePage
	if opts.MultiPage.Enabled {
		mode = archive.ModeMultiPage
	}
	meta, err := o.store.SaveCapture(store.SaveInput{
		URL:        pageURL,
		Title:      root.Title,
		HTML:       root.HTML,
		Resources:  resources,
		Favicon:    favicon,
		ExtraPages: extras,
		Mode:       mode,
		TotalPages: countSuccessful(pages),
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(o.store.BaseDir(), meta.ID), nil
}

// loadPages runs the browser phase: a single capture-node action, or a
// BFS traversal when multi-page is enabled.
func (o *Orchestrator) loadPages(
	ctx context.Context,
	jobID, pageURL string,
	opts archive.CaptureOptions,
	crawler *crawl.Crawler,
	captureCfg crawl.CaptureConfig,
) ([]archive.CapturedPage, error) {
	if !opts.MultiPage.Enabled {
		_ = o.tracker.BeginStep(jobID, stepNavigate)
		_ = o.tracker.UpdateProgress(jobID, progressNavigated)
		_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
			stats.TotalPages = 1
		})
		page, err := crawler.CaptureSingle(ctx, pageURL, captureCfg)
		if err != nil {
			return nil, err
		}
		_ = o.tracker.UpdateProgress(jobID, progressExtracted)
		_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
			stats.PagesProcessed = 1
		})
		return []archive.CapturedPage{page}, nil
	}

	_ = o.tracker.BeginStep(jobID, stepCrawl)
	pages, err := crawler.CapturePages(ctx, pageURL, captureCfg, func(processed, total int) {
		_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
			stats.PagesProcessed = processed
			stats.TotalPages = total
		})
		if total > 0 {
			_ = o.tracker.UpdateProgress(jobID, processed*progressCrawlSpan/total)
		}
	})
	if err != nil {
		return nil, err
	}
	if countSuccessful(pages) == 0 {
		return nil, errors.New("no pages captured")
	}
	return pages, nil
}

// downloadResources fetches every enumerated resource across the captured
// pages and builds the URL map from the successful downloads only.
func (o *Orchestrator) downloadResources(
	ctx context.Context,
	jobID string,
	dl *download.Downloader,
	pages []archive.CapturedPage,
) (map[string]string, []*archive.Resource, *archive.Resource) {
	_ = o.tracker.BeginStep(jobID, stepDownload)

	perKind := map[archive.ResourceKind][]string{}
	seen := map[string]struct{}{}
	addAll := func(kind archive.ResourceKind, urls []string, base string) {
		for _, raw := range urls {
			resolved := resolveAgainst(base, raw)
			if resolved == "" {
				continue
			}
			if _, dup := seen[resolved]; dup {
				continue
			}
			seen[resolved] = struct{}{}
			perKind[kind] = append(perKind[kind], resolved)
		}
	}
	faviconURL := ""
	for _, page := range pages {
		if !page.Success {
			continue
		}
		addAll(archive.KindImage, page.Resources.Images, page.URL)
		addAll(archive.KindStylesheet, page.Resources.Stylesheets, page.URL)
		addAll(archive.KindScript, page.Resources.Scripts, page.URL)
		addAll(archive.KindFont, page.Resources.Fonts, page.URL)
		if faviconURL == "" && page.Resources.Favicon != "" {
			faviconURL = resolveAgainst(page.URL, page.Resources.Favicon)
		}
	}

	total := 0
	for _, urls := range perKind {
		total += len(urls)
	}
	if faviconURL != "" {
		total++
	}
	_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
		stats.TotalResources = total
	})

	urlMap := make(map[string]string)
	var resources []*archive.Resource
	for _, kind := range []archive.ResourceKind{
		archive.KindImage, archive.KindStylesheet, archive.KindScript, archive.KindFont,
	} {
		urls := perKind[kind]
		if len(urls) == 0 {
			continue
		}
		result := dl.DownloadAll(ctx, urls, kind)
		for _, resource := range result.Succeeded {
			if _, dup := urlMap[resource.URL]; !dup {
				resources = append(resources, resource)
			}
			urlMap[resource.URL] = resource.ArchivePath()
		}
		_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
			for range result.Succeeded {
				stats.Succeeded.Add(kind)
			}
			stats.ResourcesDownloaded += len(result.Succeeded)
			for _, failure := range result.Failed {
				stats.Failed.Add(kind, failure)
			}
		})
	}

	var favicon *archive.Resource
	if faviconURL != "" {
		resource, err := dl.DownloadWithRetry(ctx, faviconURL, archive.KindFavicon)
		if err != nil {
			o.logger.Debug("favicon download failed", zap.String("url", faviconURL), zap.Error(err))
			_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
				stats.Failed.Add(archive.KindFavicon, archive.ResourceFailure{URL: faviconURL, Error: err.Error()})
			})
		} else {
			favicon = resource
			_ = o.tracker.UpdateStats(jobID, func(stats *archive.JobStats) {
				stats.Succeeded.Add(archive.KindFavicon)
				stats.ResourcesDownloaded++
			})
		}
	}
	return urlMap, resources, favicon
}

// rewritePages rewrites every successful page against the URL map. The
// first successful page is the root (index.html); the rest become extra
// pages named from their URL.
func (o *Orchestrator) rewritePages(
	pages []archive.CapturedPage,
	urlMap map[string]string,
) (archive.CapturedPage, []store.ExtraPage) {
	var (
		root     archive.CapturedPage
		haveRoot bool
		extras   []store.ExtraPage
	)
	for _, page := range pages {
		if !page.Success {
			continue
		}
		rewritten, err := o.rewriter.RewriteHTML(page.HTML, page.URL, urlMap)
		if err != nil {
			o.logger.Warn("html rewrite failed, keeping original markup",
				zap.String("url", page.URL),
				zap.Error(err),
			)
			rewritten = page.HTML
		}
		page.HTML = rewritten
		if !haveRoot {
			root = page
			haveRoot = true
			continue
		}
		extras = append(extras, store.ExtraPage{
			Filename: download.Filename(page.URL, "text/html"),
			HTML:     page.HTML,
		})
	}
	return root, extras
}

func countSuccessful(pages []archive.CapturedPage) int {
	count := 0
	for _, page := range pages {
		if page.Success {
			count++
		}
	}
	return count
}

func resolveAgainst(base, raw string) string {
	if raw == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return raw
	}
	refURL, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
