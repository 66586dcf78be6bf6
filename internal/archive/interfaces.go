package archive

import (
	"context"
	"errors"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces capture, job, batch, and crawl IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RequestKind distinguishes the capture request variants arriving on the
// intake queue.
type RequestKind string

// Request kinds.
const (
	RequestSingle  RequestKind = "single"
	RequestMulti   RequestKind = "multi"
	RequestCurated RequestKind = "curated"
)

// CuratedSelection names the URL sets of a curated capture request.
type CuratedSelection struct {
	CrawlID        string   `json:"crawlId"`
	SelectedURLs   []string `json:"selectedUrls"`
	AdditionalURLs []string `json:"additionalUrls,omitempty"`
	ExcludedURLs   []string `json:"excludedUrls,omitempty"`
}

// CaptureRequest is an already-validated capture request handed to the
// core through the intake queue.
type CaptureRequest struct {
	Kind    RequestKind       `json:"kind"`
	URL     string            `json:"url,omitempty"`
	URLs    []string          `json:"urls,omitempty"`
	Curated *CuratedSelection `json:"curated,omitempty"`
	Options CaptureOptions    `json:"options"`
}

// ErrQueueClosed is returned by Dequeue once the queue has shut down.
var ErrQueueClosed = errors.New("queue closed")

// Queue provides enqueue/dequeue semantics for capture requests.
type Queue interface {
	Enqueue(ctx context.Context, request CaptureRequest) error
	Dequeue(ctx context.Context) (CaptureRequest, error)
}
