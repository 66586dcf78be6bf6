// Package jobs tracks capture job and batch lifecycle in memory.
package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/archive"
	"github.com/pagekeep/pagekeep/internal/metrics"
)

// DefaultMaxConcurrent bounds simultaneously processing capture jobs.
const DefaultMaxConcurrent = 3

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Tracker owns the in-memory job and batch maps. All mutations go through
// the tracker so the single-writer lock preserves the job invariants.
type Tracker struct {
	mu            sync.RWMutex
	jobs          map[string]*archive.CaptureJob
	batches       map[string]*archive.BatchJob
	running       int
	maxConcurrent int
	ids           archive.IDGenerator
	clock         archive.Clock
	logger        *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(maxConcurrent int, ids archive.IDGenerator, clock archive.Clock, logger *zap.Logger) *Tracker {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		jobs:          make(map[string]*archive.CaptureJob),
		batches:       make(map[string]*archive.BatchJob),
		maxConcurrent: maxConcurrent,
		ids:           ids,
		clock:         clock,
		logger:        logger,
	}
}

// CreateJob registers a pending job for url and returns a snapshot.
func (t *Tracker) CreateJob(url string, options archive.CaptureOptions) (archive.CaptureJob, error) {
	id, err := t.ids.NewID()
	if err != nil {
		return archive.CaptureJob{}, fmt.Errorf("allocate job id: %w", err)
	}
	job := &archive.CaptureJob{
		ID:        id,
		URL:       url,
		Options:   options,
		Status:    archive.JobStatusPending,
		Steps:     []archive.Step{},
		CreatedAt: t.clock.Now(),
	}
	t.mu.Lock()
	t.jobs[id] = job
	t.mu.Unlock()
	return *snapshot(job), nil
}

// StartJob transitions a pending job to processing. It refuses and leaves
// the job pending when the concurrency budget is exhausted.
func (t *Tracker) StartJob(jobID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status != archive.JobStatusPending {
		return false, fmt.Errorf("job %s is %s, not pending", jobID, job.Status)
	}
	if t.running >= t.maxConcurrent {
		return false, nil
	}
	t.running++
	now := t.clock.Now()
	job.Status = archive.JobStatusProcessing
	job.StartedAt = &now
	metrics.IncActiveJobs()
	return true, nil
}

// BeginStep closes any open step as completed and opens a new one.
func (t *Tracker) BeginStep(jobID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	now := t.clock.Now()
	t.closeOpenStep(job, archive.StepCompleted, now)
	job.Steps = append(job.Steps, archive.Step{
		Name:      name,
		State:     archive.StepInProgress,
		StartedAt: now,
	})
	job.CurrentStep = name
	return nil
}

// UpdateProgress sets the job progress, clamped to [0,100].
func (t *Tracker) UpdateProgress(jobID string, progress int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	return nil
}

// UpdateStats applies fn to the job's stats under the tracker lock.
func (t *Tracker) UpdateStats(jobID string, fn func(*archive.JobStats)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	fn(&job.Stats)
	return nil
}

// CompleteJob marks the job completed with its output path.
func (t *Tracker) CompleteJob(jobID, outputPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	now := t.clock.Now()
	t.closeOpenStep(job, archive.StepCompleted, now)
	job.Status = archive.JobStatusCompleted
	job.Progress = 100
	job.CurrentStep = ""
	job.OutputPath = outputPath
	job.CompletedAt = &now
	t.finishRunning(job)
	return nil
}

// FailJob marks the job failed with a human-readable error.
func (t *Tracker) FailJob(jobID, errText string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	now := t.clock.Now()
	t.closeOpenStep(job, archive.StepFailed, now)
	job.Status = archive.JobStatusFailed
	job.CurrentStep = ""
	job.Error = errText
	job.CompletedAt = &now
	t.finishRunning(job)
	return nil
}

// GetJob returns a snapshot of the job.
func (t *Tracker) GetJob(jobID string) (archive.CaptureJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[jobID]
	if !ok {
		return archive.CaptureJob{}, ErrJobNotFound
	}
	return *snapshot(job), nil
}

// ListJobs returns snapshots of every tracked job.
func (t *Tracker) ListJobs() []archive.CaptureJob {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]archive.CaptureJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, *snapshot(job))
	}
	return out
}

// CleanupOldJobs drops finished jobs whose completion time exceeds maxAge
// and returns how many were removed.
func (t *Tracker) CleanupOldJobs(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-maxAge)
	removed := 0
	for id, job := range t.jobs {
		if !isTerminal(job.Status) || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	for id, batch := range t.batches {
		if batch.CompletedAt != nil && batch.CompletedAt.Before(cutoff) {
			delete(t.batches, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) closeOpenStep(job *archive.CaptureJob, state archive.StepState, now time.Time) {
	for i := len(job.Steps) - 1; i >= 0; i-- {
		if job.Steps[i].State == archive.StepInProgress {
			job.Steps[i].State = state
			ended := now
			job.Steps[i].EndedAt = &ended
			return
		}
	}
}

func (t *Tracker) finishRunning(job *archive.CaptureJob) {
	if job.StartedAt != nil {
		if t.running > 0 {
			t.running--
		}
		metrics.DecActiveJobs()
	}
	var elapsed time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		elapsed = job.CompletedAt.Sub(*job.StartedAt)
	}
	mode := string(archive.ModeSinglePage)
	if job.Options.MultiPage.Enabled {
		mode = string(archive.ModeMultiPage)
	}
	metrics.ObserveCapture(string(job.Status), mode, elapsed)
}

func isTerminal(status archive.JobStatus) bool {
	return status == archive.JobStatusCompleted || status == archive.JobStatusFailed
}

// snapshot deep-copies a job so callers never alias tracker state.
func snapshot(job *archive.CaptureJob) *archive.CaptureJob {
	out := *job
	out.Steps = append([]archive.Step{}, job.Steps...)
	out.Stats.Failed = archive.FailedResources{
		Images:      append([]archive.ResourceFailure{}, job.Stats.Failed.Images...),
		Stylesheets: append([]archive.ResourceFailure{}, job.Stats.Failed.Stylesheets...),
		Scripts:     append([]archive.ResourceFailure{}, job.Stats.Failed.Scripts...),
		Fonts:       append([]archive.ResourceFailure{}, job.Stats.Failed.Fonts...),
	}
	return &out
}
