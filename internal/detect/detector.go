// Package detect locates the main-content region of a loaded page and
// extracts its outbound links, filtering navigation chrome.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
)

// Diagnostics reports how link extraction went.
type Diagnostics struct {
	ContainerFound    bool   `json:"containerFound"`
	ContainerSelector string `json:"containerSelector,omitempty"`
	FilteredCount     int    `json:"filteredCount"`
}

type linkScriptResult struct {
	Links             []string `json:"links"`
	ContainerFound    bool     `json:"containerFound"`
	ContainerSelector string   `json:"containerSelector"`
	FilteredCount     int      `json:"filteredCount"`
}

// Detector runs in-page link extraction.
type Detector struct {
	logger *zap.Logger
}

// New creates a Detector.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// ExtractLinks evaluates the link script on page and post-processes the
// result: optional same-domain filtering against baseURL's hostname, then
// deduplication after stripping fragments and one trailing slash.
func (d *Detector) ExtractLinks(
	ctx context.Context,
	page browser.Page,
	baseURL string,
	sameDomainOnly bool,
) ([]string, Diagnostics, error) {
	var raw linkScriptResult
	if err := page.Evaluate(ctx, LinkScript(), &raw); err != nil {
		return nil, Diagnostics{}, &archive.ExtractionError{URL: baseURL, Err: err}
	}

	diags := Diagnostics{
		ContainerFound:    raw.ContainerFound,
		ContainerSelector: raw.ContainerSelector,
		FilteredCount:     raw.FilteredCount,
	}

	var baseHost string
	if u, err := url.Parse(baseURL); err == nil {
		baseHost = strings.ToLower(u.Hostname())
	}

	seen := make(map[string]struct{}, len(raw.Links))
	links := make([]string, 0, len(raw.Links))
	for _, link := range raw.Links {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if sameDomainOnly && baseHost != "" && !strings.EqualFold(u.Hostname(), baseHost) {
			diags.FilteredCount++
			continue
		}
		key := NormalizeLink(link)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		links = append(links, key)
	}

	d.logger.Debug("content links extracted",
		zap.String("page", baseURL),
		zap.Int("links", len(links)),
		zap.Bool("container_found", diags.ContainerFound),
		zap.Int("filtered", diags.FilteredCount),
	)
	return links, diags, nil
}

// NormalizeLink strips the fragment and at most one trailing slash so that
// /a, /a/ and /a#top collapse to one visit.
func NormalizeLink(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}
	if strings.HasSuffix(link, "/") && !strings.HasSuffix(link, "://") {
		link = strings.TrimSuffix(link, "/")
	}
	return link
}

// LinkScript returns the in-page script that walks the priority-ordered
// content selectors, collects anchors inside the first match, and drops
// anchors that live inside exclusion chrome.
func LinkScript() string {
	content, _ := json.Marshal(contentSelectors)
	excluded, _ := json.Marshal(exclusionSelectors)
	return fmt.Sprintf(`(() => {
	const contentSelectors = %s;
	const exclusionSelectors = %s;

	let container = null;
	let containerSelector = "";
	for (const sel of contentSelectors) {
		const found = document.querySelector(sel);
		if (found) { container = found; containerSelector = sel; break; }
	}
	const root = container || document.body;

	const excluded = [];
	for (const sel of exclusionSelectors) {
		for (const el of document.querySelectorAll(sel)) excluded.push(el);
	}

	const links = [];
	let filtered = 0;
	for (const a of root.querySelectorAll("a[href]")) {
		const href = a.href;
		if (!href || (!href.startsWith("http://") && !href.startsWith("https://"))) continue;
		if (excluded.some((el) => el.contains(a))) { filtered++; continue; }
		links.push(href);
	}
	return {
		links: links,
		containerFound: container !== null,
		containerSelector: containerSelector,
		filteredCount: filtered,
	};
})()`, content, excluded)
}
