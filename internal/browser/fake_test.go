package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeBrowserNavigateAndRead(t *testing.T) {
	b := NewFakeBrowser()
	b.AddPage("https://example.test/", &FakePageData{
		Title: "Home",
		HTML:  "<html><body>hi</body></html>",
		Eval: func(string) (any, error) {
			return map[string]any{"answer": 42}, nil
		},
	})

	page, err := b.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, page.Navigate(context.Background(), "https://example.test/", WaitNetworkIdle, time.Second))

	title, err := page.Title(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Home", title)

	html, err := page.Content(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, "hi")

	var out struct {
		Answer int `json:"answer"`
	}
	require.NoError(t, page.Evaluate(context.Background(), "whatever", &out))
	assert.Equal(t, 42, out.Answer)

	require.NoError(t, page.Close())
}

func TestFakeBrowserUnknownURL(t *testing.T) {
	b := NewFakeBrowser()
	page, err := b.NewPage(context.Background())
	require.NoError(t, err)
	err = page.Navigate(context.Background(), "https://nowhere.test/", WaitLoad, time.Second)
	require.Error(t, err)
}

func TestFakeBrowserTracksOpenPages(t *testing.T) {
	b := NewFakeBrowser()
	first, err := b.NewPage(context.Background())
	require.NoError(t, err)
	second, err := b.NewPage(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
	// Double close must not double-decrement.
	require.NoError(t, second.Close())
	assert.Equal(t, 2, b.MaxOpenPages())
}
