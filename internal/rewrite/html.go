// Package rewrite points page references at their archived local copies.
// The HTML pass rewrites src/href/srcset attributes through the capture's
// URL map; the CSS pass rewrites url(...) references inside downloaded
// stylesheets. Failures on individual elements leave them untouched.
package rewrite

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".svg": {}, ".ico": {}, ".avif": {}, ".bmp": {},
}

var localBuckets = []string{"images/", "css/", "js/", "fonts/"}

var pxPrefixPattern = regexp.MustCompile(`/(\d+)px-`)

// Rewriter rewrites captured HTML and CSS against a URL map.
type Rewriter struct {
	logger *zap.Logger
}

// New creates a Rewriter.
func New(logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{logger: logger}
}

// RewriteHTML runs the ordered HTML pass over htmlText. pageURL is the base
// for resolution unless a <base href> overrides it; the <base> tag is then
// removed. urlMap maps absolute resource URLs to bucket-relative paths.
func (r *Rewriter) RewriteHTML(htmlText, pageURL string, urlMap map[string]string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	base = r.applyBaseHref(doc, base)

	r.rewriteImages(doc, base, urlMap)
	r.rewritePictureSources(doc, base, urlMap)
	r.rewriteStylesheetLinks(doc, base, urlMap)
	r.rewriteScripts(doc, base, urlMap)
	r.stripIntegrity(doc)
	doc.Find(`meta[http-equiv="Content-Security-Policy"], meta[http-equiv="content-security-policy"]`).Remove()
	r.rewriteAnchors(doc, base, urlMap)

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}
	return out, nil
}

// applyBaseHref resolves a <base href> against the page URL, removes the
// tag, and returns the effective base.
func (r *Rewriter) applyBaseHref(doc *goquery.Document, base *url.URL) *url.URL {
	effective := base
	doc.Find("base[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if resolved := resolve(base, href); resolved != nil {
			effective = resolved
		}
	})
	doc.Find("base").Remove()
	return effective
}

func (r *Rewriter) rewriteImages(doc *goquery.Document, base *url.URL, urlMap map[string]string) {
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			if local, found := lookup(base, src, urlMap); found {
				sel.SetAttr("src", local)
			}
		}
		if srcset, ok := sel.Attr("srcset"); ok {
			sel.SetAttr("srcset", r.rewriteSrcset(srcset, base, urlMap))
		}
	})
}

func (r *Rewriter) rewritePictureSources(doc *goquery.Document, base *url.URL, urlMap map[string]string) {
	doc.Find("picture > source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		srcset, _ := sel.Attr("srcset")
		sel.SetAttr("srcset", r.rewriteSrcset(srcset, base, urlMap))
	})
}

// rewriteSrcset rewrites each candidate URL, preserving width/density
// descriptors such as "2x" or "250w".
func (r *Rewriter) rewriteSrcset(srcset string, base *url.URL, urlMap map[string]string) string {
	candidates := strings.Split(srcset, ",")
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		if local, found := lookup(base, fields[0], urlMap); found {
			fields[0] = local
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

func (r *Rewriter) rewriteStylesheetLinks(doc *goquery.Document, base *url.URL, urlMap map[string]string) {
	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if local, found := lookup(base, href, urlMap); found {
			sel.SetAttr("href", local)
		}
	})
}

func (r *Rewriter) rewriteScripts(doc *goquery.Document, base *url.URL, urlMap map[string]string) {
	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if local, found := lookup(base, src, urlMap); found {
			sel.SetAttr("src", local)
		}
	})
}

// stripIntegrity removes SRI attributes: local bytes no longer match the
// remote hashes.
func (r *Rewriter) stripIntegrity(doc *goquery.Document) {
	doc.Find("script, link").Each(func(_ int, sel *goquery.Selection) {
		sel.RemoveAttr("integrity")
		sel.RemoveAttr("crossorigin")
	})
}

// rewriteAnchors handles <a href>: mapped image links point at the local
// copy, /wiki/File: anchors resolve through the map, and remaining relative
// links are absolutized so the archive links back to the live site.
func (r *Rewriter) rewriteAnchors(doc *goquery.Document, base *url.URL, urlMap map[string]string) {
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}

		if local, found := lookup(base, href, urlMap); found && hasImageExtension(local) {
			sel.SetAttr("href", local)
			return
		}

		if name, ok := wikiFileName(href); ok {
			if local, found := resolveWikiFile(name, urlMap); found {
				sel.SetAttr("href", local)
				return
			}
		}

		if !shouldAbsolutize(href) {
			return
		}
		if resolved := resolve(base, href); resolved != nil {
			sel.SetAttr("href", resolved.String())
		}
	})
}

// shouldAbsolutize reports whether href is a root- or path-relative link
// that should point back at the live site. Anchors, non-HTTP schemes,
// already-absolute URLs, and local bucket paths stay as they are.
func shouldAbsolutize(href string) bool {
	if strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	if strings.HasPrefix(href, "//") {
		return false
	}
	if u, err := url.Parse(href); err != nil || u.IsAbs() {
		return false
	}
	for _, bucket := range localBuckets {
		if strings.HasPrefix(href, bucket) {
			return false
		}
	}
	return true
}

// wikiFileName extracts and decodes the file name from a /wiki/File: link.
func wikiFileName(href string) (string, bool) {
	const marker = "/wiki/File:"
	idx := strings.Index(href, marker)
	if idx < 0 {
		return "", false
	}
	name := href[idx+len(marker):]
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name, name != ""
}

// resolveWikiFile searches the URL map for image entries containing the
// decoded file name and returns the local path of the candidate with the
// largest <N>px- prefix.
func resolveWikiFile(name string, urlMap map[string]string) (string, bool) {
	underscored := strings.ReplaceAll(name, " ", "_")
	bestPx := -1
	bestLocal := ""
	for remote, local := range urlMap {
		if !hasImageExtension(local) {
			continue
		}
		decoded := remote
		if d, err := url.PathUnescape(remote); err == nil {
			decoded = d
		}
		if !strings.Contains(decoded, name) && !strings.Contains(decoded, underscored) {
			continue
		}
		px := 0
		if m := pxPrefixPattern.FindStringSubmatch(decoded); m != nil {
			px, _ = strconv.Atoi(m[1])
		}
		if px > bestPx {
			bestPx = px
			bestLocal = local
		}
	}
	return bestLocal, bestLocal != ""
}

// lookup resolves raw against base and reports its mapped local path.
func lookup(base *url.URL, raw string, urlMap map[string]string) (string, bool) {
	resolved := resolve(base, raw)
	if resolved == nil {
		return "", false
	}
	local, ok := urlMap[resolved.String()]
	return local, ok
}

func resolve(base *url.URL, raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "//") {
		raw = base.Scheme + ":" + raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if base == nil {
		if ref.IsAbs() {
			return ref
		}
		return nil
	}
	return base.ResolveReference(ref)
}

func hasImageExtension(p string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(p))]
	return ok
}
