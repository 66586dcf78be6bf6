package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/s.css" integrity="sha384-abc" crossorigin="anonymous">
<meta http-equiv="Content-Security-Policy" content="default-src 'self'">
</head><body>
<img src="/a.png">
<img src="https://cdn.test/b.jpg" srcset="https://cdn.test/b.jpg 1x, https://cdn.test/b@2x.jpg 2x">
<picture><source srcset="https://cdn.test/b.jpg 1x"><img src="https://cdn.test/b.jpg"></picture>
<script src="https://cdn.test/app.js" integrity="sha384-def"></script>
<a href="/about">About</a>
<a href="#section">Jump</a>
<a href="mailto:x@example.test">Mail</a>
<a href="https://other.test/page">Offsite</a>
</body></html>`

func articleMap() map[string]string {
	return map[string]string{
		"https://example.test/a.png": "images/a.png",
		"https://cdn.test/b.jpg":     "images/b.jpg",
		"https://cdn.test/b@2x.jpg":  "images/b_2x.jpg",
		"https://example.test/s.css": "css/s.css",
		"https://cdn.test/app.js":    "js/app.js",
	}
}

func TestRewriteHTMLArticle(t *testing.T) {
	r := New(nil)
	out, err := r.RewriteHTML(articleHTML, "https://example.test/article", articleMap())
	require.NoError(t, err)

	assert.Contains(t, out, `src="images/a.png"`)
	assert.Contains(t, out, `src="images/b.jpg"`)
	assert.Contains(t, out, `srcset="images/b.jpg 1x, images/b_2x.jpg 2x"`)
	assert.Contains(t, out, `href="css/s.css"`)
	assert.Contains(t, out, `src="js/app.js"`)

	assert.NotContains(t, out, "integrity=")
	assert.NotContains(t, out, "crossorigin=")
	assert.NotContains(t, out, "Content-Security-Policy")

	// Relative links point back at the live site; anchors and mailto stay.
	assert.Contains(t, out, `href="https://example.test/about"`)
	assert.Contains(t, out, `href="#section"`)
	assert.Contains(t, out, `href="mailto:x@example.test"`)
	assert.Contains(t, out, `href="https://other.test/page"`)
}

func TestRewriteHTMLBaseHref(t *testing.T) {
	html := `<html><head><base href="https://static.test/assets/"></head>
<body><img src="a.png"></body></html>`
	urlMap := map[string]string{"https://static.test/assets/a.png": "images/a.png"}

	r := New(nil)
	out, err := r.RewriteHTML(html, "https://example.test/article", urlMap)
	require.NoError(t, err)

	assert.Contains(t, out, `src="images/a.png"`)
	assert.NotContains(t, out, "<base")
}

func TestRewriteHTMLRoundTripIsNoop(t *testing.T) {
	r := New(nil)
	urlMap := articleMap()
	once, err := r.RewriteHTML(articleHTML, "https://example.test/article", urlMap)
	require.NoError(t, err)
	twice, err := r.RewriteHTML(once, "https://example.test/article", urlMap)
	require.NoError(t, err)
	assert.Equal(t, once, twice, "rewriting already-rewritten html must be a no-op")
}

func TestRewriteHTMLWikiFileAnchor(t *testing.T) {
	html := `<html><body>
<a href="/wiki/File:Example.jpg">file page</a>
<img src="https://upload.wikimedia.org/wikipedia/commons/thumb/a/ab/Example.jpg/250px-Example.jpg">
</body></html>`
	urlMap := map[string]string{
		"https://upload.wikimedia.org/wikipedia/commons/thumb/a/ab/Example.jpg/250px-Example.jpg": "images/250px-Example.jpg",
		"https://upload.wikimedia.org/wikipedia/commons/thumb/a/ab/Example.jpg/500px-Example.jpg": "images/500px-Example.jpg",
	}

	r := New(nil)
	out, err := r.RewriteHTML(html, "https://en.wikipedia.org/wiki/Example", urlMap)
	require.NoError(t, err)
	assert.Contains(t, out, `href="images/500px-Example.jpg"`,
		"the largest thumbnail must win the anchor rewrite")
}

func TestRewriteHTMLMappedImageAnchor(t *testing.T) {
	html := `<html><body><a href="https://cdn.test/photo.png">full size</a></body></html>`
	urlMap := map[string]string{"https://cdn.test/photo.png": "images/photo.png"}

	r := New(nil)
	out, err := r.RewriteHTML(html, "https://example.test/", urlMap)
	require.NoError(t, err)
	assert.Contains(t, out, `href="images/photo.png"`)
}

func TestShouldAbsolutize(t *testing.T) {
	tests := []struct {
		href string
		want bool
	}{
		{"/about", true},
		{"page2", true},
		{"#top", false},
		{"javascript:void(0)", false},
		{"mailto:a@b.c", false},
		{"tel:+15551234", false},
		{"https://example.test/x", false},
		{"//cdn.test/x", false},
		{"images/a.png", false},
		{"css/s.css", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, shouldAbsolutize(tc.href), tc.href)
	}
}
