// Package browser defines the headless browser capability consumed by the
// capture pipeline, along with a chromedp-backed implementation and an
// in-memory fake for tests.
package browser

import (
	"context"
	"time"
)

// WaitCondition selects how long navigation blocks before returning.
type WaitCondition string

// Supported wait conditions.
const (
	// WaitLoad returns once the load event has fired.
	WaitLoad WaitCondition = "load"
	// WaitDOMContentLoaded returns once the DOM is ready.
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	// WaitNetworkIdle returns once the DOM is ready and network activity
	// has settled (at most two in-flight requests for a quiet window).
	WaitNetworkIdle WaitCondition = "networkidle2"
)

// InterceptPolicy decides whether a request of the given resource type
// (lowercase, e.g. "document", "script", "image") may proceed.
type InterceptPolicy func(resourceType string) bool

// Page is a single browser tab.
type Page interface {
	// SetUserAgent overrides the user agent for subsequent navigations.
	SetUserAgent(ctx context.Context, userAgent string) error
	// SetExtraHeaders attaches headers to every request the page makes.
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	// SetRequestInterception installs an allow/abort decision hook.
	SetRequestInterception(ctx context.Context, allow InterceptPolicy) error
	// Navigate loads url and blocks per the wait condition, bounded by timeout.
	Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	// Evaluate runs script in the page and unmarshals its JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// Content returns the serialized DOM.
	Content(ctx context.Context) (string, error)
	// Close releases the tab.
	Close() error
}

// Browser creates pages and owns the underlying process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}
