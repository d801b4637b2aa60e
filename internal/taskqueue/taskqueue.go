// Package taskqueue implements spec.md §4.1: durable at-least-once task
// delivery over internal/store.TaskStore, exponential-backoff retry
// scheduling, and classification of failures into retry-vs-dead-letter via
// internal/apperr. The claim operation itself is a single conditional UPDATE
// in the Store backend (internal/store/postgres); this package owns the
// policy layered on top of it.
package taskqueue

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/store"
)

// Policy holds the tunables from spec.md §4.1's retry formula:
// delay(n) = min(base * 2^min(n-1, cap), max).
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	BackoffCap   int
	LeaseDuration time.Duration
}

// DefaultPolicy mirrors values commonly used for this shape of retry in the
// teacher's pipeline tuning structs (index_graph.go's conflict-retry loop
// uses a similarly small base/cap pairing).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		BaseDelay:     2 * time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffCap:    6,
		LeaseDuration: 2 * time.Minute,
	}
}

// RetryDelay computes delay(n) for the n-th attempt (1-indexed).
func (p Policy) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > p.BackoffCap {
		exp = p.BackoffCap
	}
	d := p.BaseDelay * time.Duration(math.Pow(2, float64(exp)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Notifier is a secondary, best-effort wake-up fan-out (internal/taskqueue/notify.Redis
// satisfies it) that the Worker Loop's change-feed listener subscribes to
// alongside the Store's own feed.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan store.TaskChange, error)
	Publish(ctx context.Context) error
}

// Queue is a thin policy layer over a store.TaskStore.
type Queue struct {
	store    store.TaskStore
	policy   Policy
	log      zerolog.Logger
	notifier Notifier
}

// Option configures a Queue, following the functional-option style of
// internal/rag/service.Option.
type Option func(*Queue)

// WithPolicy overrides the retry/lease policy.
func WithPolicy(p Policy) Option { return func(q *Queue) { q.policy = p } }

// WithLogger overrides the queue's logger.
func WithLogger(l zerolog.Logger) Option { return func(q *Queue) { q.log = l } }

// WithNotifier attaches a secondary wake-up fan-out. SubscribeChanges merges
// its events with the Store's native feed; mutating calls publish to it on a
// best-effort basis so other worker processes poll sooner.
func WithNotifier(n Notifier) Option { return func(q *Queue) { q.notifier = n } }

// New constructs a Queue bound to the given store.
func New(s store.TaskStore, opts ...Option) *Queue {
	q := &Queue{store: s, policy: DefaultPolicy(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// notify publishes a best-effort wake-up hint if a Notifier is configured.
// Failures are logged, never propagated: the Store's own feed (or a worker's
// poll timer) is always enough on its own.
func (q *Queue) notify(ctx context.Context) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.Publish(ctx); err != nil {
		q.log.Debug().Err(err).Msg("secondary change notifier publish failed")
	}
}

// Enqueue creates a new Pending task.
func (q *Queue) Enqueue(ctx context.Context, payload domain.IngestionPayload) (string, error) {
	id, err := q.store.Enqueue(ctx, payload, q.policy.MaxAttempts)
	if err == nil {
		q.notify(ctx)
	}
	return id, err
}

// Claim attempts to reserve the next eligible task for workerID.
func (q *Queue) Claim(ctx context.Context, workerID string) (*domain.IngestionTask, error) {
	return q.store.ClaimNextReady(ctx, workerID, time.Now(), q.policy.LeaseDuration)
}

// RenewLease extends a claimed task's lease.
func (q *Queue) RenewLease(ctx context.Context, taskID, workerID string) error {
	return q.store.RenewLease(ctx, taskID, workerID, time.Now().Add(q.policy.LeaseDuration))
}

// Succeed marks a task Succeeded (terminal).
func (q *Queue) Succeed(ctx context.Context, taskID string) error {
	return q.store.MarkSucceeded(ctx, taskID)
}

// Fail classifies err and either schedules a retry (the row stays Failed and
// becomes claimable again once scheduled_at elapses) or routes straight to
// DeadLetter, per spec.md §4.1/§7: Validation is the sole non-retryable kind.
func (q *Queue) Fail(ctx context.Context, task domain.IngestionTask, err error) error {
	if !apperr.Retryable(err) || task.Attempts >= task.MaxAttempts {
		q.log.Warn().Str("task_id", task.ID).Err(err).Msg("ingestion task dead-lettered")
		return q.store.MarkDeadLetter(ctx, task.ID, err)
	}
	delay := q.policy.RetryDelay(task.Attempts)
	retryAt := time.Now().Add(delay)
	q.log.Info().Str("task_id", task.ID).Int("attempt", task.Attempts).
		Dur("retry_in", delay).Err(err).Msg("ingestion task failed, scheduling retry")
	return q.store.MarkFailed(ctx, task.ID, err, retryAt)
}

// Cancel cancels a non-terminal task.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	return q.store.Cancel(ctx, taskID)
}

// ListUnfinishedFor returns a user's non-terminal tasks.
func (q *Queue) ListUnfinishedFor(ctx context.Context, userID string) ([]domain.IngestionTask, error) {
	return q.store.ListUnfinishedFor(ctx, userID)
}

// ReapExpiredLeases resets timed-out Reserved/Processing rows to Pending.
func (q *Queue) ReapExpiredLeases(ctx context.Context) (int, error) {
	return q.store.ReapExpiredLeases(ctx, time.Now())
}

// SubscribeChanges exposes the underlying change feed as a wake-up hint,
// fanned in with the secondary Notifier's feed when one is configured. Both
// are hints only; the worker never dispatches directly off either.
func (q *Queue) SubscribeChanges(ctx context.Context) (<-chan store.TaskChange, error) {
	primary, err := q.store.SubscribeChanges(ctx)
	if err != nil {
		return nil, err
	}
	if q.notifier == nil {
		return primary, nil
	}

	secondary, err := q.notifier.Subscribe(ctx)
	if err != nil {
		q.log.Debug().Err(err).Msg("secondary change notifier subscribe failed, using store feed only")
		return primary, nil
	}

	out := make(chan store.TaskChange, 1)
	go func() {
		defer close(out)
		for primary != nil || secondary != nil {
			select {
			case c, ok := <-primary:
				if !ok {
					primary = nil
					continue
				}
				select {
				case out <- c:
				default:
				}
			case c, ok := <-secondary:
				if !ok {
					secondary = nil
					continue
				}
				select {
				case out <- c:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
