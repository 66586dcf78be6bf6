package extract

import (
	"regexp"
	"strings"
)

var (
	fontFacePattern = regexp.MustCompile(`(?is)@font-face\s*\{[^}]*\}`)
	srcPattern      = regexp.MustCompile(`(?is)src\s*:\s*((?:url\([^)]*\)|[^;}])+)`)
	cssURLPattern   = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)
)

// FontFaceURLs parses @font-face blocks out of cssText and returns every
// src url(...) resolved against baseURL. data: URLs are skipped.
func FontFaceURLs(cssText, baseURL string) []string {
	var fonts []string
	for _, block := range fontFacePattern.FindAllString(cssText, -1) {
		for _, src := range srcPattern.FindAllStringSubmatch(block, -1) {
			for _, match := range cssURLPattern.FindAllStringSubmatch(src[1], -1) {
				ref := strings.TrimSpace(match[1])
				if ref == "" || strings.HasPrefix(ref, "data:") {
					continue
				}
				if resolved, ok := resolveAgainst(baseURL, ref); ok {
					fonts = append(fonts, resolved)
				}
			}
		}
	}
	return fonts
}
