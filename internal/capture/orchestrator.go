// Package capture implements the top-level capture workflow: single-page
// and multi-page captures, batches, and the curated test-crawl flow.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/browser"
	"github.com/pagekeep/pagekeep/internal/detect"
	"github.com/pagekeep/pagekeep/internal/export"
	"github.com/pagekeep/pagekeep/internal/jobs"
	"github.com/pagekeep/pagekeep/internal/ratelimit"
	"github.com/pagekeep/pagekeep/internal/rewrite"
	"github.com/pagekeep/pagekeep/internal/store"
	"github.com/pagekeep/pagekeep/internal/testcrawl"
)

// slotRetryDelay paces polling for a free job slot.
const slotRetryDelay = 500 * time.Millisecond

// Pipeline step names recorded in the job step log.
const (
	stepNavigate = "navigate"
	stepCrawl    = "crawl_pages"
	stepDownload = "download_resources"
	stepRewrite  = "rewrite_html"
	stepPersist  = "save_capture"
)

// Config parameterizes the orchestrator.
type Config struct {
	// TempDir receives in-flight downloads, one subdirectory per job.
	TempDir string
	// DownloadConcurrency bounds per-page resource downloads (default 5).
	DownloadConcurrency int
}

// Orchestrator binds the browser, crawler, downloader, rewriter, store,
// and job tracker into the capture pipeline.
type Orchestrator struct {
	browser    browser.Browser
	tracker    *jobs.Tracker
	store      *store.Store
	limiter    *ratelimit.Limiter
	rewriter   *rewrite.Rewriter
	detector   *detect.Detector
	testCrawls *testcrawl.Manager
	cfg        Config
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// New constructs an Orchestrator.
func New(
	b browser.Browser,
	tracker *jobs.Tracker,
	st *store.Store,
	limiter *ratelimit.Limiter,
	testCrawls *testcrawl.Manager,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		browser:    b,
		tracker:    tracker,
		store:      st,
		limiter:    limiter,
		rewriter:   rewrite.New(logger),
		detector:   detect.New(logger),
		testCrawls: testCrawls,
		cfg:        cfg,
		logger:     logger,
	}
}

// StartCapture registers a capture job for url and runs the pipeline
// asynchronously. The job id is returned immediately.
func (o *Orchestrator) StartCapture(ctx context.Context, url string, opts archive.CaptureOptions) (string, error) {
	opts = opts.Normalized()
	job, err := o.tracker.CreateJob(url, opts)
	if err != nil {
		return "", err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runJob(ctx, job.ID, url, opts, "")
	}()
	return job.ID, nil
}

// CaptureMulti creates one capture job per URL under a new batch. Per-URL
// failures do not abort the batch; its summary reflects partial completion.
func (o *Orchestrator) CaptureMulti(ctx context.Context, urls []string, opts archive.CaptureOptions) (string, error) {
	if len(urls) == 0 {
		return "", errors.New("no urls to capture")
	}
	opts = opts.Normalized()

	members := make([]archive.BatchMember, 0, len(urls))
	jobIDs := make([]string, 0, len(urls))
	for _, url := range urls {
		job, err := o.tracker.CreateJob(url, opts)
		if err != nil {
			return "", err
		}
		members = append(members, archive.BatchMember{
			JobID:  job.ID,
			URL:    url,
			Status: archive.JobStatusPending,
		})
		jobIDs = append(jobIDs, job.ID)
	}
	batch, err := o.tracker.CreateBatch(members)
	if err != nil {
		return "", err
	}

	for i, url := range urls {
		jobID := jobIDs[i]
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runJob(ctx, jobID, url, opts, batch.ID)
		}()
	}
	return batch.ID, nil
}

// CaptureCurated requires a completed test crawl and captures the URL set
// unique(selected + additional) minus excluded.
func (o *Orchestrator) CaptureCurated(
	ctx context.Context,
	crawlID string,
	selected, additional, excluded []string,
	opts archive.CaptureOptions,
) (string, error) {
	session, err := o.testCrawls.GetStatus(crawlID)
	if err != nil {
		return "", err
	}
	if session.Status != archive.CrawlStatusCompleted {
		return "", fmt.Errorf("test crawl %s is %s, not completed", crawlID, session.Status)
	}

	seen := make(map[string]struct{})
	var urls []string
	add := func(list []string) {
		for _, url := range list {
			key := detect.NormalizeLink(url)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			urls = append(urls, url)
		}
	}
	add(selected)
	add(additional)

	drop := make(map[string]struct{}, len(excluded))
	for _, url := range excluded {
		drop[detect.NormalizeLink(url)] = struct{}{}
	}
	kept := urls[:0]
	for _, url := range urls {
		if _, gone := drop[detect.NormalizeLink(url)]; gone {
			continue
		}
		kept = append(kept, url)
	}
	if len(kept) == 0 {
		return "", errors.New("curated selection is empty")
	}
	return o.CaptureMulti(ctx, kept, opts)
}

// GetJob returns a snapshot of the job.
func (o *Orchestrator) GetJob(jobID string) (archive.CaptureJob, error) {
	return o.tracker.GetJob(jobID)
}

// GetBatch returns a snapshot of the batch.
func (o *Orchestrator) GetBatch(batchID string) (archive.BatchJob, error) {
	return o.tracker.GetBatch(batchID)
}

// ExportBatch streams a ZIP archive of a finished batch: each completed
// member's capture directory grouped under <hostname>-<jobPrefix>/ plus a
// top-level manifest.json.
func (o *Orchestrator) ExportBatch(batchID string, w io.Writer) error {
	batch, err := o.tracker.GetBatch(batchID)
	if err != nil {
		return err
	}
	var members []export.Member
	for _, member := range batch.Members {
		if member.Status != archive.JobStatusCompleted {
			continue
		}
		job, err := o.tracker.GetJob(member.JobID)
		if err != nil || job.OutputPath == "" {
			continue
		}
		members = append(members, export.Member{
			JobID: member.JobID,
			URL:   member.URL,
			Dir:   job.OutputPath,
		})
	}
	if len(members) == 0 {
		return fmt.Errorf("batch %s has no completed captures to export", batchID)
	}
	return export.WriteBatchArchive(w, batch, members, time.Now().UTC())
}

// Wait blocks until every in-flight capture goroutine has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runJob claims a concurrency slot, executes the pipeline, and reports the
// terminal state to the batch when the job belongs to one.
func (o *Orchestrator) runJob(ctx context.Context, jobID, url string, opts archive.CaptureOptions, batchID string) {
	if err := o.waitForSlot(ctx, jobID); err != nil {
		o.failJob(jobID, batchID, fmt.Sprintf("waiting for capture slot: %v", err))
		return
	}
	if batchID != "" {
		if err := o.tracker.UpdateBatchMember(batchID, jobID, archive.JobStatusProcessing); err != nil {
			o.logger.Warn("batch member update", zap.String("batch_id", batchID), zap.Error(err))
		}
	}

	outputPath, err := o.capture(ctx, jobID, url, opts)
	if err != nil {
		o.logger.Warn("capture job failed",
			zap.String("job_id", jobID),
			zap.String("url", url),
			zap.Error(err),
		)
		o.failJob(jobID, batchID, err.Error())
		return
	}

	if err := o.tracker.CompleteJob(jobID, outputPath); err != nil {
		o.logger.Error("complete job", zap.String("job_id", jobID), zap.Error(err))
	}
	if batchID != "" {
		if err := o.tracker.UpdateBatchMember(batchID, jobID, archive.JobStatusCompleted); err != nil {
			o.logger.Warn("batch member update", zap.String("batch_id", batchID), zap.Error(err))
		}
	}
	o.logger.Info("capture completed",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.String("output", outputPath),
	)
}

func (o *Orchestrator) failJob(jobID, batchID, errText string) {
	if err := o.tracker.FailJob(jobID, errText); err != nil {
		o.logger.Error("fail job", zap.String("job_id", jobID), zap.Error(err))
	}
	if batchID != "" {
		if err := o.tracker.UpdateBatchMember(batchID, jobID, archive.JobStatusFailed); err != nil {
			o.logger.Warn("batch member update", zap.String("batch_id", batchID), zap.Error(err))
		}
	}
}

// waitForSlot polls StartJob until the tracker admits the job.
func (o *Orchestrator) waitForSlot(ctx context.Context, jobID string) error {
	for {
		started, err := o.tracker.StartJob(jobID)
		if err != nil {
			return err
		}
		if started {
			return nil
		}
		timer := time.NewTimer(slotRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
