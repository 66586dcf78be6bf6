package jobs

import (
	"errors"
	"fmt"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// ErrBatchNotFound is returned for unknown batch ids.
var ErrBatchNotFound = errors.New("batch not found")

// CreateBatch registers a batch over the given member jobs.
func (t *Tracker) CreateBatch(members []archive.BatchMember) (archive.BatchJob, error) {
	id, err := t.ids.NewID()
	if err != nil {
		return archive.BatchJob{}, fmt.Errorf("allocate batch id: %w", err)
	}
	batch := &archive.BatchJob{
		ID:        id,
		Members:   append([]archive.BatchMember{}, members...),
		CreatedAt: t.clock.Now(),
	}
	recomputeBatch(batch)
	t.mu.Lock()
	t.batches[id] = batch
	t.mu.Unlock()
	return *batchSnapshot(batch), nil
}

// UpdateBatchMember records a member job's new status and re-derives the
// batch status, progress, and summary.
func (t *Tracker) UpdateBatchMember(batchID, jobID string, status archive.JobStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	batch, ok := t.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	found := false
	for i := range batch.Members {
		if batch.Members[i].JobID == jobID {
			batch.Members[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("job %s not in batch %s", jobID, batchID)
	}
	recomputeBatch(batch)
	if (batch.Status == archive.BatchStatusCompleted ||
		batch.Status == archive.BatchStatusPartial ||
		batch.Status == archive.BatchStatusFailed) && batch.CompletedAt == nil {
		now := t.clock.Now()
		batch.CompletedAt = &now
	}
	return nil
}

// GetBatch returns a snapshot of the batch.
func (t *Tracker) GetBatch(batchID string) (archive.BatchJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	batch, ok := t.batches[batchID]
	if !ok {
		return archive.BatchJob{}, ErrBatchNotFound
	}
	return *batchSnapshot(batch), nil
}

// recomputeBatch derives summary counters, status, and progress from the
// member statuses:
//
//	all completed            -> completed
//	all failed               -> failed
//	mixed terminal, none left -> partial
//	any started              -> in_progress
//	untouched                -> pending
func recomputeBatch(batch *archive.BatchJob) {
	summary := archive.BatchSummary{Total: len(batch.Members)}
	processing := 0
	for _, member := range batch.Members {
		switch member.Status {
		case archive.JobStatusCompleted:
			summary.Completed++
		case archive.JobStatusFailed:
			summary.Failed++
		case archive.JobStatusProcessing:
			processing++
			summary.Pending++
		default:
			summary.Pending++
		}
	}
	batch.Summary = summary

	switch {
	case summary.Total == 0:
		batch.Status = archive.BatchStatusPending
	case summary.Completed == summary.Total:
		batch.Status = archive.BatchStatusCompleted
	case summary.Failed == summary.Total:
		batch.Status = archive.BatchStatusFailed
	case summary.Completed > 0 && summary.Failed > 0 && summary.Pending == 0:
		batch.Status = archive.BatchStatusPartial
	case summary.Completed > 0 || summary.Failed > 0 || processing > 0:
		batch.Status = archive.BatchStatusInProgress
	default:
		batch.Status = archive.BatchStatusPending
	}

	if summary.Total > 0 {
		batch.Progress = summary.Completed * 100 / summary.Total
	}
}

func batchSnapshot(batch *archive.BatchJob) *archive.BatchJob {
	out := *batch
	out.Members = append([]archive.BatchMember{}, batch.Members...)
	return &out
}
