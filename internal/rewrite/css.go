package rewrite

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// RewriteCSS rewrites every url(...) in cssText whose absolute resolution
// against cssURL appears in the map. Stylesheets live under css/, so mapped
// targets are reached via "../<bucket>/<filename>". data: URLs are skipped.
func (r *Rewriter) RewriteCSS(cssText, cssURL string, urlMap map[string]string) string {
	base, err := url.Parse(cssURL)
	if err != nil {
		r.logger.Warn("unparseable stylesheet url, css left unrewritten", zap.String("url", cssURL))
		return cssText
	}
	return cssURLPattern.ReplaceAllStringFunc(cssText, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		ref := strings.TrimSpace(sub[1])
		if ref == "" || strings.HasPrefix(ref, "data:") {
			return match
		}
		resolved := resolve(base, ref)
		if resolved == nil {
			return match
		}
		local, ok := urlMap[resolved.String()]
		if !ok {
			return match
		}
		return fmt.Sprintf("url(%q)", "../"+local)
	})
}

// RewriteCSSFile applies RewriteCSS to a downloaded stylesheet in place.
func (r *Rewriter) RewriteCSSFile(path, cssURL string, urlMap map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read stylesheet %s: %w", path, err)
	}
	rewritten := r.RewriteCSS(string(data), cssURL, urlMap)
	if rewritten == string(data) {
		return nil
	}
	if err := os.WriteFile(path, []byte(rewritten), 0o600); err != nil {
		return fmt.Errorf("write stylesheet %s: %w", path, err)
	}
	return nil
}
