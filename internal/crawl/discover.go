package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/metrics"
)

// Estimated-byte weights per resource kind, added to the raw HTML length.
const (
	weightImage      = 50000
	weightStylesheet = 20000
	weightScript     = 30000
	weightFont       = 15000
)

// discoveryResult is the shape returned by DiscoveryScript.
type discoveryResult struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      int      `json:"images"`
	Stylesheets int      `json:"css"`
	Scripts     int      `json:"js"`
	Fonts       int      `json:"fonts"`
	Links       []string `json:"links"`
	HTMLLen     int64    `json:"htmlLen"`
}

// Discover walks the site rooted at seed in discovery mode: pages are
// loaded with resource interception allowing only documents and scripts,
// and only metadata is collected. onPage fires for every discovered page;
// cancelled is observed at the top of the BFS loop.
func (c *Crawler) Discover(
	ctx context.Context,
	seed string,
	opts archive.DiscoveryOptions,
	onPage func(archive.DiscoveredPage),
	cancelled func() bool,
) error {
	opts = opts.Normalized()
	action := func(ctx context.Context, item queueItem) ([]string, error) {
		page, err := c.discoverPage(ctx, item, opts)
		if err != nil {
			return nil, err
		}
		metrics.ObservePage(page.URL, "discovery")
		if onPage != nil {
			onPage(page)
		}
		return page.Links, nil
	}
	return c.traverse(ctx, seed, opts.Depth, opts.MaxPages, discoveryWorkers, opts.SameDomainOnly, cancelled, action)
}

// discoverPage runs the discovery node action for one URL.
func (c *Crawler) discoverPage(
	ctx context.Context,
	item queueItem,
	opts archive.DiscoveryOptions,
) (archive.DiscoveredPage, error) {
	page, err := c.browser.NewPage(ctx)
	if err != nil {
		return archive.DiscoveredPage{}, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			c.logger.Debug("close discovery page", zap.Error(cerr))
		}
	}()

	allow := func(resourceType string) bool {
		return resourceType == "document" || resourceType == "script"
	}
	if err := page.SetRequestInterception(ctx, allow); err != nil {
		return archive.DiscoveredPage{}, fmt.Errorf("set interception: %w", err)
	}

	if err := page.Navigate(ctx, item.url, browser.WaitNetworkIdle, opts.Timeout); err != nil {
		return archive.DiscoveredPage{}, &archive.NavigationError{URL: item.url, Err: err}
	}

	var result discoveryResult
	if err := page.Evaluate(ctx, DiscoveryScript, &result); err != nil {
		return archive.DiscoveredPage{}, &archive.ExtractionError{URL: item.url, Err: err}
	}

	estimated := result.HTMLLen +
		int64(result.Images)*weightImage +
		int64(result.Stylesheets)*weightStylesheet +
		int64(result.Scripts)*weightScript +
		int64(result.Fonts)*weightFont

	return archive.DiscoveredPage{
		URL:         item.url,
		Title:       result.Title,
		Description: result.Description,
		Depth:       item.depth,
		Resources: archive.ResourceCounts{
			Images:      result.Images,
			Stylesheets: result.Stylesheets,
			Scripts:     result.Scripts,
			Fonts:       result.Fonts,
			Links:       len(result.Links),
		},
		EstimatedSize: estimated,
		Links:         result.Links,
	}, nil
}

// DiscoveryScript collects page metadata without touching assets: title,
// meta description, resource counts, the first 100 outbound HTTP links
// (anchors and javascript:/mailto:/tel: pseudo-links dropped), and the raw
// HTML length for size estimation.
const DiscoveryScript = `(() => {
	const meta = document.querySelector('meta[name="description"]');
	const links = [];
	for (const a of document.querySelectorAll("a[href]")) {
		const href = a.href;
		if (!href) continue;
		if (!href.startsWith("http://") && !href.startsWith("https://")) continue;
		const lower = href.toLowerCase();
		if (lower.startsWith("javascript:") || lower.startsWith("mailto:") || lower.startsWith("tel:")) continue;
		links.push(href);
		if (links.length >= 100) break;
	}
	let fonts = 0;
	for (const style of document.querySelectorAll("style")) {
		const text = style.textContent || "";
		fonts += (text.match(/@font-face/g) || []).length;
	}
	return {
		title: document.title || "",
		description: meta ? (meta.getAttribute("content") || "") : "",
		images: document.querySelectorAll("img").length,
		css: document.querySelectorAll('link[rel="stylesheet"]').length,
		js: document.querySelectorAll("script[src]").length,
		fonts: fonts,
		links: links,
		htmlLen: document.documentElement.outerHTML.length,
	};
})()`
