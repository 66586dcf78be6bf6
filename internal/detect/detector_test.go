package detect

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/browser"
)

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://a.test/page#section", "https://a.test/page"},
		{"https://a.test/page/", "https://a.test/page"},
		{"https://a.test/page", "https://a.test/page"},
		{"https://a.test/page/#top", "https://a.test/page"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeLink(tc.in))
	}
}

func TestLinkScriptEmbedsSelectors(t *testing.T) {
	script := LinkScript()
	assert.True(t, strings.Contains(script, `"main"`))
	assert.True(t, strings.Contains(script, `"nav"`))
	assert.True(t, strings.Contains(script, "containerFound"))
}

func scriptedPage(t *testing.T, url string, result map[string]any) browser.Page {
	t.Helper()
	b := browser.NewFakeBrowser()
	b.AddPage(url, &browser.FakePageData{
		Eval: func(string) (any, error) {
			return result, nil
		},
	})
	page, err := b.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, page.Navigate(context.Background(), url, browser.WaitNetworkIdle, 0))
	return page
}

func TestExtractLinksSameDomainAndDedup(t *testing.T) {
	const pageURL = "https://example.test/article"
	page := scriptedPage(t, pageURL, map[string]any{
		"links": []string{
			"https://example.test/p2",
			"https://example.test/p2/",
			"https://example.test/p2#anchor",
			"https://other.test/x",
			"ftp://example.test/file",
		},
		"containerFound":    true,
		"containerSelector": "main",
		"filteredCount":     2,
	})

	d := New(nil)
	links, diags, err := d.ExtractLinks(context.Background(), page, pageURL, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.test/p2"}, links)
	assert.True(t, diags.ContainerFound)
	assert.Equal(t, "main", diags.ContainerSelector)
	// Two filtered in-page plus the off-domain link dropped here.
	assert.Equal(t, 3, diags.FilteredCount)
}

func TestExtractLinksKeepsOffDomainWhenAllowed(t *testing.T) {
	const pageURL = "https://example.test/article"
	page := scriptedPage(t, pageURL, map[string]any{
		"links":          []string{"https://other.test/x"},
		"containerFound": false,
	})

	d := New(nil)
	links, _, err := d.ExtractLinks(context.Background(), page, pageURL, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://other.test/x"}, links)
}
