package download

import (
	"crypto/md5"
	"encoding/hex"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// maxFilenameLen caps generated filenames, extension preserved.
const maxFilenameLen = 100

var invalidFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// genericDispatchers are server endpoints whose basename says nothing about
// the payload; their filenames get an MD5 suffix and a content-type extension.
var genericDispatchers = map[string]struct{}{
	"load.php":   {},
	"index.php":  {},
	"api.php":    {},
	"script.php": {},
}

// preferredExtensions resolves the extension for common content types ahead
// of the platform mime database, which is unordered.
var preferredExtensions = map[string]string{
	"text/css":                      ".css",
	"text/html":                     ".html",
	"text/javascript":               ".js",
	"application/javascript":        ".js",
	"application/x-javascript":      ".js",
	"application/json":              ".json",
	"application/pdf":               ".pdf",
	"image/jpeg":                    ".jpg",
	"image/png":                     ".png",
	"image/gif":                     ".gif",
	"image/webp":                    ".webp",
	"image/svg+xml":                 ".svg",
	"image/x-icon":                  ".ico",
	"image/vnd.microsoft.icon":      ".ico",
	"image/avif":                    ".avif",
	"font/woff2":                    ".woff2",
	"font/woff":                     ".woff",
	"font/ttf":                      ".ttf",
	"font/otf":                      ".otf",
	"application/font-woff":         ".woff",
	"application/font-woff2":        ".woff2",
	"application/x-font-ttf":        ".ttf",
	"application/vnd.ms-fontobject": ".eot",
}

// Filename derives a safe archive filename from a resource URL. The query
// string is dropped; characters outside [A-Za-z0-9._-] are collapsed to
// underscores. Generic dispatcher endpoints with a query get an
// _<md5(url)[0:8]> suffix and an extension forced from the content type, so
// distinct query strings map to distinct files.
func Filename(rawURL, contentType string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackFilename(rawURL, contentType)
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return fallbackFilename(rawURL, contentType)
	}

	if _, generic := genericDispatchers[strings.ToLower(base)]; generic && u.RawQuery != "" {
		stem := sanitize(strings.TrimSuffix(base, path.Ext(base)))
		name := stem + "_" + hashPrefix(rawURL, 8) + extFromContentType(contentType)
		return truncate(name)
	}

	name := sanitize(base)
	if name == "" || name == strings.Repeat("_", len(name)) {
		return fallbackFilename(rawURL, contentType)
	}
	if path.Ext(name) == "" {
		name += extFromContentType(contentType)
	}
	return truncate(name)
}

func fallbackFilename(rawURL, contentType string) string {
	return "resource_" + hashPrefix(rawURL, 12) + extFromContentType(contentType)
}

func sanitize(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}

func hashPrefix(rawURL string, n int) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:n]
}

func extFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func truncate(name string) string {
	if len(name) <= maxFilenameLen {
		return name
	}
	ext := path.Ext(name)
	if len(ext) >= maxFilenameLen {
		return name[:maxFilenameLen]
	}
	return name[:maxFilenameLen-len(ext)] + ext
}
