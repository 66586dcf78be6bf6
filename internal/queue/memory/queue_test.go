package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/archive"
)

func TestEnqueueDequeue(t *testing.T) {
	q := NewQueue(2)
	ctx := context.Background()

	request := archive.CaptureRequest{Kind: archive.RequestSingle, URL: "https://example.test/"}
	require.NoError(t, q.Enqueue(ctx, request))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, request, got)
}

func TestDequeueRespectsContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}
