package archive

import "time"

// Clamp bounds for capture and discovery options.
const (
	MinCaptureTimeout = 5 * time.Second
	MaxCaptureTimeout = 120 * time.Second

	MinCaptureDepth = 1
	MaxCaptureDepth = 3

	MinCapturePages = 1
	MaxCapturePages = 100

	MinDiscoveryDepth    = 1
	MaxDiscoveryDepth    = 10
	DefaultDiscoveryMax  = 100
	DefaultCaptureWindow = 30 * time.Second
)

// MultiPageOptions configures multi-page traversal inside one capture job.
type MultiPageOptions struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	Depth          int  `json:"depth" mapstructure:"depth"`
	MaxPages       int  `json:"maxPages" mapstructure:"max_pages"`
	SameDomainOnly bool `json:"sameDomainOnly" mapstructure:"same_domain_only"`
}

// CaptureOptions are the normalized per-capture knobs.
type CaptureOptions struct {
	// InlineStyles controls whether <style> blocks are processed during
	// extraction (and their @font-face fonts discovered).
	InlineStyles bool `json:"inlineStyles" mapstructure:"inline_styles"`
	// IncludePDFs is accepted for wire compatibility but is not consumed
	// by the pipeline: the archive layout defines no bucket for document
	// attachments.
	IncludePDFs bool              `json:"includePDFs" mapstructure:"include_pdfs"`
	Timeout     time.Duration     `json:"timeout" mapstructure:"timeout"`
	MultiPage   MultiPageOptions  `json:"multiPage" mapstructure:"multi_page"`
	UserAgent   string            `json:"userAgent,omitempty" mapstructure:"user_agent"`
	Headers     map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	// IncludeScreenshot is accepted for wire compatibility but is not
	// consumed by the pipeline.
	IncludeScreenshot bool `json:"includeScreenshot" mapstructure:"include_screenshot"`
}

// DefaultCaptureOptions returns the option defaults before clamping.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		InlineStyles: true,
		Timeout:      DefaultCaptureWindow,
		MultiPage: MultiPageOptions{
			Depth:          1,
			MaxPages:       10,
			SameDomainOnly: true,
		},
	}
}

// Normalized clamps every field into its documented range.
func (o CaptureOptions) Normalized() CaptureOptions {
	out := o
	out.Timeout = clampDuration(out.Timeout, MinCaptureTimeout, MaxCaptureTimeout)
	out.MultiPage.Depth = clampInt(out.MultiPage.Depth, MinCaptureDepth, MaxCaptureDepth)
	out.MultiPage.MaxPages = clampInt(out.MultiPage.MaxPages, MinCapturePages, MaxCapturePages)
	return out
}

// DiscoveryOptions configure a test crawl.
type DiscoveryOptions struct {
	Depth          int           `json:"depth" mapstructure:"depth"`
	MaxPages       int           `json:"maxPages" mapstructure:"max_pages"`
	SameDomainOnly bool          `json:"sameDomainOnly" mapstructure:"same_domain_only"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Normalized clamps depth into [1,10] and applies the maxPages default.
func (o DiscoveryOptions) Normalized() DiscoveryOptions {
	out := o
	out.Depth = clampInt(out.Depth, MinDiscoveryDepth, MaxDiscoveryDepth)
	if out.MaxPages <= 0 {
		out.MaxPages = DefaultDiscoveryMax
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultCaptureWindow
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v <= 0 {
		return DefaultCaptureWindow
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
