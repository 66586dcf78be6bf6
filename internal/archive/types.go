// Package archive defines the core types shared across the capture pipeline.
// It includes job and batch lifecycle records, test-crawl sessions, capture
// metadata, and the capability interfaces consumed by the orchestrator.
package archive

import (
	"time"
)

// JobStatus represents the lifecycle state of a capture job.
type JobStatus string

// Job status values tracked by the job tracker.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// StepState is the state of a single entry in a job's step log.
type StepState string

// Step states.
const (
	StepInProgress StepState = "in_progress"
	StepCompleted  StepState = "completed"
	StepFailed     StepState = "failed"
)

// Step is one entry in the ordered step log of a capture job.
type Step struct {
	Name      string     `json:"name"`
	State     StepState  `json:"state"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// ResourceKind classifies a downloaded resource into its archive bucket.
type ResourceKind string

// Resource kinds.
const (
	KindImage      ResourceKind = "image"
	KindStylesheet ResourceKind = "stylesheet"
	KindScript     ResourceKind = "script"
	KindFont       ResourceKind = "font"
	KindFavicon    ResourceKind = "favicon"
)

// Bucket returns the capture-directory subfolder for the kind.
func (k ResourceKind) Bucket() string {
	switch k {
	case KindImage:
		return "images"
	case KindStylesheet:
		return "css"
	case KindScript:
		return "js"
	case KindFont:
		return "fonts"
	default:
		return ""
	}
}

// ResourceFailure records a single resource that could not be downloaded.
type ResourceFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// KindCounts holds per-kind success counters.
type KindCounts struct {
	Images      int `json:"images"`
	Stylesheets int `json:"stylesheets"`
	Scripts     int `json:"scripts"`
	Fonts       int `json:"fonts"`
}

// Add increments the counter for kind.
func (c *KindCounts) Add(kind ResourceKind) {
	switch kind {
	case KindImage, KindFavicon:
		c.Images++
	case KindStylesheet:
		c.Stylesheets++
	case KindScript:
		c.Scripts++
	case KindFont:
		c.Fonts++
	}
}

// Total sums every counter.
func (c KindCounts) Total() int {
	return c.Images + c.Stylesheets + c.Scripts + c.Fonts
}

// FailedResources groups download failures by kind.
type FailedResources struct {
	Images      []ResourceFailure `json:"images,omitempty"`
	Stylesheets []ResourceFailure `json:"stylesheets,omitempty"`
	Scripts     []ResourceFailure `json:"scripts,omitempty"`
	Fonts       []ResourceFailure `json:"fonts,omitempty"`
}

// Add appends a failure entry under the given kind.
func (f *FailedResources) Add(kind ResourceKind, failure ResourceFailure) {
	switch kind {
	case KindImage, KindFavicon:
		f.Images = append(f.Images, failure)
	case KindStylesheet:
		f.Stylesheets = append(f.Stylesheets, failure)
	case KindScript:
		f.Scripts = append(f.Scripts, failure)
	case KindFont:
		f.Fonts = append(f.Fonts, failure)
	}
}

// Total counts every recorded failure.
func (f FailedResources) Total() int {
	return len(f.Images) + len(f.Stylesheets) + len(f.Scripts) + len(f.Fonts)
}

// JobStats tracks page and resource progress for one capture job.
type JobStats struct {
	PagesProcessed      int             `json:"pagesProcessed"`
	TotalPages          int             `json:"totalPages"`
	ResourcesDownloaded int             `json:"resourcesDownloaded"`
	TotalResources      int             `json:"totalResources"`
	Succeeded           KindCounts      `json:"succeeded"`
	Failed              FailedResources `json:"failed"`
}

// CaptureJob tracks the capture of a single URL.
//
// Invariants maintained by the job tracker: a completed job has a non-empty
// OutputPath and Progress 100; a failed job has a non-empty Error; at most one
// step is in progress at a time; transitions are monotonic
// (pending -> processing -> completed|failed).
type CaptureJob struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Options     CaptureOptions `json:"options"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep,omitempty"`
	Steps       []Step         `json:"steps"`
	OutputPath  string         `json:"outputPath,omitempty"`
	Error       string         `json:"error,omitempty"`
	Stats       JobStats       `json:"stats"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// BatchStatus is the derived state of a batch of capture jobs.
type BatchStatus string

// Batch status values.
const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusPartial    BatchStatus = "partial"
	BatchStatusFailed     BatchStatus = "failed"
)

// BatchMember is one job inside a batch.
type BatchMember struct {
	JobID  string    `json:"jobId"`
	URL    string    `json:"url"`
	Status JobStatus `json:"status"`
}

// BatchSummary holds the member counters a batch derives its status from.
type BatchSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// BatchJob aggregates the capture jobs produced by one multi-URL request.
type BatchJob struct {
	ID          string        `json:"batchId"`
	Members     []BatchMember `json:"jobs"`
	Summary     BatchSummary  `json:"summary"`
	Status      BatchStatus   `json:"status"`
	Progress    int           `json:"progress"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// CrawlStatus is the lifecycle state of a test crawl.
type CrawlStatus string

// Test crawl status values.
const (
	CrawlStatusCrawling  CrawlStatus = "crawling"
	CrawlStatusCompleted CrawlStatus = "completed"
	CrawlStatusFailed    CrawlStatus = "failed"
)

// ResourceCounts is the per-page resource census collected during discovery.
type ResourceCounts struct {
	Images      int `json:"images"`
	Stylesheets int `json:"css"`
	Scripts     int `json:"js"`
	Fonts       int `json:"fonts"`
	Links       int `json:"links"`
}

// DiscoveredPage is page metadata gathered without downloading assets.
type DiscoveredPage struct {
	URL           string         `json:"url"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Depth         int            `json:"depth"`
	Resources     ResourceCounts `json:"resources"`
	EstimatedSize int64          `json:"estimatedSize"`
	Selected      bool           `json:"selected"`
	Links         []string       `json:"links,omitempty"`
}

// DiscoveryResult aggregates the pages found by one test crawl.
type DiscoveryResult struct {
	Pages              []DiscoveredPage `json:"pages"`
	ByDepth            map[int]int      `json:"byDepth"`
	TotalEstimatedSize int64            `json:"totalEstimatedSize"`
}

// TestCrawl is a discovery-only BFS session.
type TestCrawl struct {
	ID          string           `json:"crawlId"`
	SeedURL     string           `json:"url"`
	Options     DiscoveryOptions `json:"options"`
	Status      CrawlStatus      `json:"status"`
	Progress    int              `json:"progress"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Discovered  DiscoveryResult  `json:"discovered"`
	Error       string           `json:"error,omitempty"`
}

// Resource describes a downloaded asset ready for persistence.
type Resource struct {
	URL         string       `json:"url"`
	LocalPath   string       `json:"localPath"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"contentType"`
	Size        int64        `json:"size"`
	Kind        ResourceKind `json:"kind"`
}

// ArchivePath is the bucket-relative path the rewriter points references at.
func (r Resource) ArchivePath() string {
	if bucket := r.Kind.Bucket(); bucket != "" {
		return bucket + "/" + r.Filename
	}
	return r.Filename
}

// InlineStyle is the content of a <style> block and its position in the page.
type InlineStyle struct {
	Content string `json:"content"`
	Index   int    `json:"index"`
}

// PageResources enumerates everything the extractor found on a loaded page.
type PageResources struct {
	Images       []string      `json:"images"`
	Stylesheets  []string      `json:"stylesheets"`
	InlineStyles []InlineStyle `json:"inlineStyles"`
	Scripts      []string      `json:"scripts"`
	Fonts        []string      `json:"fonts"`
	Favicon      string        `json:"favicon,omitempty"`
	// WikiThumbs maps thumbnail URLs to their original-file URLs; the
	// rewriter consults it for /wiki/File: anchors.
	WikiThumbs map[string]string `json:"-"`
}

// CapturedPage is the result of the capture-mode node action for one page.
type CapturedPage struct {
	URL       string
	Depth     int
	Title     string
	HTML      string
	Resources PageResources
	Links     []string
	Success   bool
	Error     string
}

// CaptureMode distinguishes single-page from multi-page captures.
type CaptureMode string

// Capture modes.
const (
	ModeSinglePage CaptureMode = "single-page"
	ModeMultiPage  CaptureMode = "multi-page"
)

// CaptureStats is the resource census persisted with a capture.
type CaptureStats struct {
	TotalPages  int   `json:"totalPages"`
	Images      int   `json:"images"`
	Stylesheets int   `json:"stylesheets"`
	Scripts     int   `json:"scripts"`
	Fonts       int   `json:"fonts"`
	TotalSize   int64 `json:"totalSize"`
}

// CaptureMetadata is the full metadata.json record for a persisted capture.
type CaptureMetadata struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	CapturedAt  time.Time    `json:"capturedAt"`
	CaptureMode CaptureMode  `json:"captureMode"`
	Stats       CaptureStats `json:"stats"`
	Tags        []string     `json:"tags"`
	Notes       string       `json:"notes"`
	Collections []string     `json:"collections"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// CaptureSummary is the subset of metadata mirrored into the index for
// fast listing. Thumbnail is always null; the field is kept so the index
// shape stays stable.
type CaptureSummary struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	CapturedAt  time.Time `json:"capturedAt"`
	Thumbnail   *string   `json:"thumbnail"`
	Size        int64     `json:"size"`
	Tags        []string  `json:"tags"`
	Collections []string  `json:"collections"`
}

// Index is the top-level captures/index.json document.
type Index struct {
	Version     string           `json:"version"`
	Captures    []CaptureSummary `json:"captures"`
	Collections []string         `json:"collections"`
}

// IndexVersion is the current index schema version.
const IndexVersion = "1.0"
