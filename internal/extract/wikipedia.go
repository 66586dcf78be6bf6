package extract

import "regexp"

// Wikipedia thumbnail URLs embed the original file path:
// .../wikipedia/commons/thumb/a/ab/File.jpg/250px-File.jpg maps back to
// .../wikipedia/commons/a/ab/File.jpg.
var wikiThumbPattern = regexp.MustCompile(`^(.*?/wikipedia[^/]*/(?:[^/]+/)?)thumb/([^/]+)/([^/]+)/([^/]+)/\d+px-[^/]+$`)

// WikipediaOriginal maps a Wikipedia thumbnail URL to its original-file URL.
// The mapping is recorded for the rewriter, which consults it when a
// /wiki/File: anchor is encountered; it does not rewrite image URLs itself.
func WikipediaOriginal(imageURL string) (string, bool) {
	m := wikiThumbPattern.FindStringSubmatch(imageURL)
	if m == nil {
		return "", false
	}
	return m[1] + m[2] + "/" + m[3] + "/" + m[4], true
}
