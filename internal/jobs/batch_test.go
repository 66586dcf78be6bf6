package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/archive"
)

func members(statuses ...archive.JobStatus) []archive.BatchMember {
	out := make([]archive.BatchMember, len(statuses))
	for i, status := range statuses {
		out[i] = archive.BatchMember{
			JobID:  string(rune('a' + i)),
			URL:    "https://example.test/",
			Status: status,
		}
	}
	return out
}

func TestBatchStatusDerivation(t *testing.T) {
	pending := archive.JobStatusPending
	processing := archive.JobStatusProcessing
	completed := archive.JobStatusCompleted
	failed := archive.JobStatusFailed

	tests := []struct {
		name     string
		statuses []archive.JobStatus
		want     archive.BatchStatus
		progress int
	}{
		{"untouched", []archive.JobStatus{pending, pending}, archive.BatchStatusPending, 0},
		{"one running", []archive.JobStatus{processing, pending}, archive.BatchStatusInProgress, 0},
		{"some done", []archive.JobStatus{completed, pending}, archive.BatchStatusInProgress, 50},
		{"all completed", []archive.JobStatus{completed, completed}, archive.BatchStatusCompleted, 100},
		{"all failed", []archive.JobStatus{failed, failed}, archive.BatchStatusFailed, 0},
		{"mixed terminal", []archive.JobStatus{completed, failed}, archive.BatchStatusPartial, 50},
		{"mixed with pending", []archive.JobStatus{completed, failed, pending}, archive.BatchStatusInProgress, 33},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			batch := &archive.BatchJob{Members: members(tc.statuses...)}
			recomputeBatch(batch)
			assert.Equal(t, tc.want, batch.Status)
			assert.Equal(t, tc.progress, batch.Progress)
		})
	}
}

func TestBatchMemberUpdates(t *testing.T) {
	tracker, _ := newTestTracker(3)
	batch, err := tracker.CreateBatch(members(archive.JobStatusPending, archive.JobStatusPending))
	require.NoError(t, err)
	assert.Equal(t, archive.BatchStatusPending, batch.Status)
	assert.Equal(t, archive.BatchSummary{Total: 2, Pending: 2}, batch.Summary)

	require.NoError(t, tracker.UpdateBatchMember(batch.ID, "a", archive.JobStatusProcessing))
	current, err := tracker.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.BatchStatusInProgress, current.Status)

	require.NoError(t, tracker.UpdateBatchMember(batch.ID, "a", archive.JobStatusCompleted))
	require.NoError(t, tracker.UpdateBatchMember(batch.ID, "b", archive.JobStatusFailed))
	final, err := tracker.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.BatchStatusPartial, final.Status)
	assert.Equal(t, 50, final.Progress)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, archive.BatchSummary{Total: 2, Completed: 1, Failed: 1}, final.Summary)
}

func TestBatchUnknownMember(t *testing.T) {
	tracker, _ := newTestTracker(3)
	batch, err := tracker.CreateBatch(members(archive.JobStatusPending))
	require.NoError(t, err)
	assert.Error(t, tracker.UpdateBatchMember(batch.ID, "zz", archive.JobStatusCompleted))
	assert.ErrorIs(t, tracker.UpdateBatchMember("nope", "a", archive.JobStatusCompleted), ErrBatchNotFound)
}
