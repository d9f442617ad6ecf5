package async

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	force map[string]bool
	block chan struct{}
	err   error
}

func (p *recordingProcessor) ProcessDocument(ctx context.Context, id string, force bool) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, id)
	if p.force == nil {
		p.force = map[string]bool{}
	}
	p.force[id] = force
	return p.err
}

func TestWorkerQueue_ProcessesAllJobs(t *testing.T) {
	proc := &recordingProcessor{}
	q := NewWorkerQueue(proc, nil, WithWorkers(3), WithQueueSize(2))

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id, Force: id == "c"}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	got := append([]string(nil), proc.seen...)
	sort.Strings(got)
	assert.Equal(t, ids, got)
	assert.True(t, proc.force["c"])
	assert.False(t, proc.force["a"])
}

func TestWorkerQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewWorkerQueue(&recordingProcessor{}, nil, WithWorkers(1))
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{DocumentID: "late"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestWorkerQueue_FullQueueHonoursContext(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	q := NewWorkerQueue(proc, nil, WithWorkers(1), WithQueueSize(1))

	// one job in flight, one buffered
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: "1"}))
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: "2"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{DocumentID: "3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(proc.block)
	q.Shutdown(context.Background())
	assert.Len(t, proc.seen, 2)
}

func TestWorkerQueue_FailureDoesNotStopWorkers(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("boom")}
	q := NewWorkerQueue(proc, nil, WithWorkers(1), WithProcessTimeout(time.Second))
	for _, id := range []string{"x", "y"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id}))
	}
	q.Shutdown(context.Background())
	assert.Len(t, proc.seen, 2)
}
