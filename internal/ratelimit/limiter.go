// Package ratelimit enforces per-domain request spacing for the downloader
// and honors Retry-After back-off hints from throttled origins.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pagekeep/pagekeep/internal/metrics"
)

// DefaultMinDelay is the minimum spacing between requests to one domain.
const DefaultMinDelay = 1000 * time.Millisecond

// MaxRetryAfterWait caps how long a Retry-After hint can stall a request.
const MaxRetryAfterWait = 300 * time.Second

// Limiter serializes departures per domain so no two requests to the same
// host leave less than the configured minimum delay apart.
type Limiter struct {
	mu       sync.Mutex
	domains  map[string]*rate.Limiter
	minDelay time.Duration
}

// New creates a Limiter. A non-positive minDelay falls back to the default.
func New(minDelay time.Duration) *Limiter {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	return &Limiter{
		domains:  make(map[string]*rate.Limiter),
		minDelay: minDelay,
	}
}

// WaitForDomain blocks until the domain of rawURL may be contacted again,
// respecting the context. It is safe under parallel callers; waits for the
// same domain are serialized by the underlying limiter.
func (l *Limiter) WaitForDomain(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)

	l.mu.Lock()
	limiter, ok := l.domains[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.minDelay), 1)
		l.domains[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// HandleRetryAfter sleeps for the duration encoded in a Retry-After header
// value: either a number of seconds or an RFC 1123 date. The wait is capped
// at MaxRetryAfterWait. It returns the duration actually waited.
func (l *Limiter) HandleRetryAfter(ctx context.Context, value string) (time.Duration, error) {
	delay := ParseRetryAfter(value, time.Now())
	if delay <= 0 {
		return 0, nil
	}
	if delay > MaxRetryAfterWait {
		delay = MaxRetryAfterWait
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("retry-after wait canceled: %w", ctx.Err())
	case <-timer.C:
		return delay, nil
	}
}

// ParseRetryAfter decodes a Retry-After value relative to now. Unparseable
// values and dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		at, err = time.Parse(time.RFC1123, value)
	}
	if err == nil {
		if delta := at.Sub(now); delta > 0 {
			return delta
		}
	}
	return 0
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
