package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/ratelimit"
)

func newTestDownloader(t *testing.T, baseURL string) *Downloader {
	t.Helper()
	d, err := New(Config{
		BaseURL: baseURL,
		TempDir: t.TempDir(),
	}, ratelimit.New(time.Millisecond), nil)
	require.NoError(t, err)
	return d
}

func TestResolve(t *testing.T) {
	d := newTestDownloader(t, "https://example.test/articles/post")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"absolute", "https://cdn.test/a.png", "https://cdn.test/a.png", false},
		{"scheme relative", "//cdn.test/a.png", "https://cdn.test/a.png", false},
		{"root relative", "/img/a.png", "https://example.test/img/a.png", false},
		{"path relative", "a.png", "https://example.test/articles/a.png", false},
		{"empty", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.Resolve(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveRelativeWithoutBase(t *testing.T) {
	d, err := New(Config{TempDir: t.TempDir()}, ratelimit.New(time.Millisecond), nil)
	require.NoError(t, err)
	_, err = d.Resolve("/a.png")
	require.Error(t, err, "relative url without a base must fail fast")
}

func TestDownloadCachesDescriptors(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	ctx := context.Background()

	first, err := d.Download(ctx, server.URL+"/a.png", archive.KindImage)
	require.NoError(t, err)
	second, err := d.Download(ctx, server.URL+"/a.png", archive.KindImage)
	require.NoError(t, err)

	assert.Same(t, first, second, "repeat download must return the cached descriptor")
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, "a.png", first.Filename)
	assert.EqualValues(t, len("png-bytes"), first.Size)
	assert.Equal(t, "images/a.png", first.ArchivePath())
}

func TestDownloadHonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	start := time.Now()
	resource, err := d.Download(context.Background(), server.URL+"/pic.jpg", archive.KindImage)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After must be waited out")
	assert.EqualValues(t, 2, attempts.Load())
	assert.Equal(t, "pic.jpg", resource.Filename)
}

func TestDownloadWithRetryBacksOff(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	resource, err := d.DownloadWithRetry(context.Background(), server.URL+"/s.css", archive.KindStylesheet)
	require.NoError(t, err)
	assert.EqualValues(t, 3, attempts.Load())
	assert.Equal(t, "s.css", resource.Filename)
}

func TestDownloadFailureIsDownloadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	_, err := d.Download(context.Background(), server.URL+"/missing.png", archive.KindImage)
	require.Error(t, err)
	var dlErr *archive.DownloadError
	require.ErrorAs(t, err, &dlErr)
}

func TestDownloadAllPartitions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	result := d.DownloadAll(context.Background(), []string{
		server.URL + "/a.png",
		server.URL + "/b.png",
		server.URL + "/bad.png",
	}, archive.KindImage)

	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, server.URL+"/bad.png", result.Failed[0].URL)
	assert.NotEmpty(t, result.Failed[0].Error)
}

func TestDispatcherCollisionFilenames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("//js"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	ctx := context.Background()
	first, err := d.Download(ctx, server.URL+"/load.php?mod=site", archive.KindScript)
	require.NoError(t, err)
	second, err := d.Download(ctx, server.URL+"/load.php?mod=user", archive.KindScript)
	require.NoError(t, err)

	assert.Regexp(t, `^load_[0-9a-f]{8}\.js$`, first.Filename)
	assert.Regexp(t, `^load_[0-9a-f]{8}\.js$`, second.Filename)
	assert.NotEqual(t, first.Filename, second.Filename)
}

func TestFilenameUniquenessAcrossPathsInOneSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	ctx := context.Background()
	first, err := d.Download(ctx, server.URL+"/a/style.css", archive.KindStylesheet)
	require.NoError(t, err)
	second, err := d.Download(ctx, server.URL+"/b/style.css", archive.KindStylesheet)
	require.NoError(t, err)
	require.NotEqual(t, first.Filename, second.Filename,
		"same basename from different paths must not collide in one capture")
}

func TestFetchText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("@font-face{src:url(/f.woff2)}"))
	}))
	defer server.Close()

	d := newTestDownloader(t, server.URL)
	text, err := d.FetchText(context.Background(), server.URL+"/s.css")
	require.NoError(t, err)
	assert.Contains(t, text, "@font-face")
}
