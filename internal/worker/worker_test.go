package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/ingestion"
	"knowledgecore/internal/store"
	"knowledgecore/internal/taskqueue"
)

type fakeStore struct {
	store.TaskStore
	mu       sync.Mutex
	pending  []domain.IngestionTask
	claimed  []string
	succeeded []string
	failed   []string
	reaped   int
}

func (f *fakeStore) ClaimNextReady(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*domain.IngestionTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	task := f.pending[0]
	f.pending = f.pending[1:]
	task.Attempts++
	f.claimed = append(f.claimed, task.ID)
	return &task, nil
}

func (f *fakeStore) RenewLease(ctx context.Context, taskID, workerID string, until time.Time) error {
	return nil
}

func (f *fakeStore) MarkSucceeded(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, taskID)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, taskID string, cause error, retryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, taskID)
	return nil
}

func (f *fakeStore) MarkDeadLetter(ctx context.Context, taskID string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, taskID)
	return nil
}

func (f *fakeStore) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaped++
	return 0, nil
}

func (f *fakeStore) SubscribeChanges(ctx context.Context) (<-chan store.TaskChange, error) {
	ch := make(chan store.TaskChange)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type countingExecutor struct {
	calls int32
	err   error
}

func (e *countingExecutor) Run(ctx context.Context, task domain.IngestionTask) (ingestion.PersistResult, error) {
	atomic.AddInt32(&e.calls, 1)
	return ingestion.PersistResult{}, e.err
}

func TestLoop_ClaimsAndSucceeds(t *testing.T) {
	fs := &fakeStore{pending: []domain.IngestionTask{{ID: "t1", MaxAttempts: 5}}}
	q := taskqueue.New(fs)
	exec := &countingExecutor{}
	l := New(q, exec, Config{Concurrency: 1, PollInterval: 5 * time.Millisecond, ReapInterval: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	assert.Equal(t, int32(1), exec.calls)
	assert.Equal(t, []string{"t1"}, fs.succeeded)
	assert.Empty(t, fs.failed)
}

func TestLoop_FailedTaskGoesThroughFail(t *testing.T) {
	fs := &fakeStore{pending: []domain.IngestionTask{{ID: "t1", MaxAttempts: 1}}}
	q := taskqueue.New(fs)
	exec := &countingExecutor{err: errors.New("boom")}
	l := New(q, exec, Config{Concurrency: 1, PollInterval: 5 * time.Millisecond, ReapInterval: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	require.NotEmpty(t, fs.failed)
	assert.Equal(t, "t1", fs.failed[0])
	assert.Empty(t, fs.succeeded)
}

func TestLoop_EmptyQueueDoesNotPanic(t *testing.T) {
	fs := &fakeStore{}
	q := taskqueue.New(fs)
	exec := &countingExecutor{}
	l := New(q, exec, Config{Concurrency: 2, PollInterval: 5 * time.Millisecond, ReapInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = l.Run(ctx)

	assert.Equal(t, int32(0), exec.calls)
}
