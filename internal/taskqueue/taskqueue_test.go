package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/store"
)

func TestPolicy_RetryDelay_ExponentialWithCap(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, BackoffCap: 3}
	assert.Equal(t, time.Second, p.RetryDelay(1))
	assert.Equal(t, 2*time.Second, p.RetryDelay(2))
	assert.Equal(t, 4*time.Second, p.RetryDelay(3))
	assert.Equal(t, 8*time.Second, p.RetryDelay(4))
	// attempt 5 would be 16s uncapped (exp=4); BackoffCap=3 caps exp at 3, so 8s
	assert.Equal(t, 8*time.Second, p.RetryDelay(5))
}

func TestPolicy_RetryDelay_NeverExceedsMax(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, MaxDelay: 90 * time.Second, BackoffCap: 10}
	assert.Equal(t, 90*time.Second, p.RetryDelay(3))
}

type fakeTaskStore struct {
	store.TaskStore
	deadLettered []string
	failed       []string
}

func (f *fakeTaskStore) MarkDeadLetter(ctx context.Context, taskID string, cause error) error {
	f.deadLettered = append(f.deadLettered, taskID)
	return nil
}

func (f *fakeTaskStore) MarkFailed(ctx context.Context, taskID string, cause error, retryAt time.Time) error {
	f.failed = append(f.failed, taskID)
	return nil
}

func TestQueue_Fail_ValidationGoesStraightToDeadLetter(t *testing.T) {
	fs := &fakeTaskStore{}
	q := New(fs)
	task := domain.IngestionTask{ID: "t1", Attempts: 1, MaxAttempts: 5}

	err := q.Fail(context.Background(), task, apperr.New(apperr.KindValidation, "empty text"))

	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, fs.deadLettered)
	assert.Empty(t, fs.failed)
}

func TestQueue_Fail_OtherErrorsRetryUntilExhausted(t *testing.T) {
	fs := &fakeTaskStore{}
	q := New(fs)
	task := domain.IngestionTask{ID: "t1", Attempts: 2, MaxAttempts: 3}

	err := q.Fail(context.Background(), task, apperr.New(apperr.KindDatabase, "conn reset"))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, fs.failed)

	task.Attempts = 3
	err = q.Fail(context.Background(), task, apperr.New(apperr.KindDatabase, "conn reset"))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, fs.deadLettered)
}

type fakeChangeStore struct {
	store.TaskStore
	changes chan store.TaskChange
}

func (f *fakeChangeStore) SubscribeChanges(ctx context.Context) (<-chan store.TaskChange, error) {
	return f.changes, nil
}

func (f *fakeChangeStore) Enqueue(ctx context.Context, payload domain.IngestionPayload, maxAttempts int) (string, error) {
	return "t1", nil
}

type fakeNotifier struct {
	changes   chan store.TaskChange
	published int
}

func (f *fakeNotifier) Subscribe(ctx context.Context) (<-chan store.TaskChange, error) {
	return f.changes, nil
}

func (f *fakeNotifier) Publish(ctx context.Context) error {
	f.published++
	return nil
}

func TestQueue_SubscribeChanges_FansInNotifier(t *testing.T) {
	storeCh := make(chan store.TaskChange, 1)
	notifierCh := make(chan store.TaskChange, 1)
	fs := &fakeChangeStore{changes: storeCh}
	fn := &fakeNotifier{changes: notifierCh}
	q := New(fs, WithNotifier(fn))

	out, err := q.SubscribeChanges(context.Background())
	require.NoError(t, err)

	notifierCh <- store.TaskChange{Action: store.ChangeUpdate}
	select {
	case c := <-out:
		assert.Equal(t, store.ChangeUpdate, c.Action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fanned-in notifier event")
	}

	storeCh <- store.TaskChange{Action: store.ChangeCreate}
	select {
	case c := <-out:
		assert.Equal(t, store.ChangeCreate, c.Action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for store event")
	}
}

func TestQueue_Enqueue_PublishesToNotifier(t *testing.T) {
	fs := &fakeChangeStore{}
	fn := &fakeNotifier{}
	q := New(fs, WithNotifier(fn))

	_, err := q.Enqueue(context.Background(), domain.IngestionPayload{})
	require.NoError(t, err)
	assert.Equal(t, 1, fn.published)
}
