// Package extract enumerates the resources referenced by a loaded page:
// images (including srcset candidates), stylesheets, scripts, fonts
// declared via @font-face, and the favicon.
package extract

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
)

// TextFetcher retrieves a stylesheet body for font discovery.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
	Resolve(raw string) (string, error)
}

// Extractor gathers page resources via in-page evaluation plus off-page
// stylesheet parsing.
type Extractor struct {
	fetcher TextFetcher
	logger  *zap.Logger
}

// New creates an Extractor. The fetcher supplies stylesheet text for
// @font-face discovery.
func New(fetcher TextFetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, logger: logger}
}

type resourceScriptResult struct {
	Images       []string              `json:"images"`
	Stylesheets  []string              `json:"stylesheets"`
	InlineStyles []archive.InlineStyle `json:"inlineStyles"`
	Scripts      []string              `json:"scripts"`
	Favicon      string                `json:"favicon"`
}

// Extract runs the in-page enumeration script, then resolves fonts from the
// referenced stylesheets. pageURL anchors relative stylesheet and font URLs.
// When inlineStyles is false, <style> blocks are dropped and their fonts are
// not discovered.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, pageURL string, inlineStyles bool) (*archive.PageResources, error) {
	var raw resourceScriptResult
	if err := page.Evaluate(ctx, ResourceScript, &raw); err != nil {
		return nil, &archive.ExtractionError{URL: pageURL, Err: err}
	}
	if !inlineStyles {
		raw.InlineStyles = nil
	}

	resources := &archive.PageResources{
		Images:       dedupe(raw.Images),
		Stylesheets:  dedupe(raw.Stylesheets),
		InlineStyles: raw.InlineStyles,
		Scripts:      dedupe(raw.Scripts),
		Favicon:      raw.Favicon,
		WikiThumbs:   map[string]string{},
	}

	for _, image := range resources.Images {
		if original, ok := WikipediaOriginal(image); ok {
			resources.WikiThumbs[image] = original
		}
	}

	resources.Fonts = e.extractFonts(ctx, resources.Stylesheets, resources.InlineStyles, pageURL)

	e.logger.Debug("page resources enumerated",
		zap.String("page", pageURL),
		zap.Int("images", len(resources.Images)),
		zap.Int("stylesheets", len(resources.Stylesheets)),
		zap.Int("scripts", len(resources.Scripts)),
		zap.Int("fonts", len(resources.Fonts)),
	)
	return resources, nil
}

// extractFonts fetches each external stylesheet's text (no persistence) and
// parses @font-face src URLs, resolving them against the stylesheet URL.
// Inline <style> blocks are parsed against the page URL. Fetch failures are
// logged and skipped; font discovery never fails the extraction.
func (e *Extractor) extractFonts(
	ctx context.Context,
	stylesheets []string,
	inline []archive.InlineStyle,
	pageURL string,
) []string {
	var fonts []string
	seen := make(map[string]struct{})

	add := func(urls []string) {
		for _, u := range urls {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			fonts = append(fonts, u)
		}
	}

	for _, sheet := range stylesheets {
		resolved, err := e.fetcher.Resolve(sheet)
		if err != nil {
			e.logger.Debug("skip unresolvable stylesheet", zap.String("href", sheet), zap.Error(err))
			continue
		}
		text, err := e.fetcher.FetchText(ctx, resolved)
		if err != nil {
			e.logger.Debug("stylesheet fetch failed during font discovery",
				zap.String("href", resolved), zap.Error(err))
			continue
		}
		add(FontFaceURLs(text, resolved))
	}
	for _, style := range inline {
		add(FontFaceURLs(style.Content, pageURL))
	}
	return fonts
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func resolveAgainst(base, ref string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return baseURL.ResolveReference(refURL).String(), true
}
