package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForDomainSpacing(t *testing.T) {
	const minDelay = 100 * time.Millisecond
	l := New(minDelay)
	ctx := context.Background()

	require.NoError(t, l.WaitForDomain(ctx, "https://example.test/a"))
	start := time.Now()
	require.NoError(t, l.WaitForDomain(ctx, "https://example.test/b"))
	require.GreaterOrEqual(t, time.Since(start), minDelay-5*time.Millisecond,
		"second request to the same domain must wait out the spacing")
}

func TestWaitForDomainIndependentDomains(t *testing.T) {
	l := New(time.Second)
	ctx := context.Background()

	require.NoError(t, l.WaitForDomain(ctx, "https://a.test/x"))
	start := time.Now()
	require.NoError(t, l.WaitForDomain(ctx, "https://b.test/x"))
	require.Less(t, time.Since(start), 100*time.Millisecond,
		"different domains must not block each other")
}

func TestWaitForDomainContextCanceled(t *testing.T) {
	l := New(time.Minute)
	ctx := context.Background()
	require.NoError(t, l.WaitForDomain(ctx, "https://slow.test/"))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.WaitForDomain(cancelCtx, "https://slow.test/")
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"seconds", "2", 2 * time.Second},
		{"zero seconds", "0", 0},
		{"negative seconds", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(time.RFC1123), 90 * time.Second},
		{"past date", now.Add(-time.Hour).Format(time.RFC1123), 0},
		{"garbage", "soon", 0},
		{"empty", "", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseRetryAfter(tc.value, now)
			// RFC 1123 has second granularity; allow a second of slack.
			require.InDelta(t, tc.want.Seconds(), got.Seconds(), 1.0)
		})
	}
}

func TestHandleRetryAfterSleeps(t *testing.T) {
	l := New(time.Millisecond)
	start := time.Now()
	waited, err := l.HandleRetryAfter(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, time.Second, waited)
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestHandleRetryAfterCanceled(t *testing.T) {
	l := New(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.HandleRetryAfter(ctx, "30")
	require.Error(t, err)
}
