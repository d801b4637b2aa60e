// Package worker implements the Worker Loop (spec.md §2, §5): a
// long-running process that claims ready tasks from the Task Queue up to a
// concurrency limit, drives each through the Ingestion Pipeline, renews the
// task's lease while it runs, and periodically reaps expired leases left by
// crashed workers.
//
// Grounded on the teacher's internal/playground/worker.Worker/Executor
// naming idiom (Task/Result/Executor, uuid run ids) for the Go-side shape,
// combined with the "always re-sweep the queue on reconnect, treat the
// change stream as a wake-up hint rather than a source of truth" semantics
// of original_source/crates/main/src/worker.rs's main loop -- our claim
// contract is pull-based (ClaimNextReady) rather than the original's
// push-style notification dispatch, so the change feed here only shortens
// the poll interval, it never substitutes for a claim.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/ingestion"
	"knowledgecore/internal/obs"
	"knowledgecore/internal/taskqueue"
)

// Executor runs one claimed task to completion. ingestion.Pipeline
// satisfies this.
type Executor interface {
	Run(ctx context.Context, task domain.IngestionTask) (ingestion.PersistResult, error)
}

// Config tunes the loop's polling, concurrency, and lease behavior.
type Config struct {
	WorkerID      string
	Concurrency   int
	PollInterval  time.Duration
	ReapInterval  time.Duration
	LeaseDuration time.Duration
}

// DefaultConfig mirrors internal/taskqueue.DefaultPolicy's lease duration.
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		PollInterval:  2 * time.Second,
		ReapInterval:  30 * time.Second,
		LeaseDuration: 2 * time.Minute,
	}
}

// Loop is the Worker Loop: N claim/process goroutines plus a reaper.
type Loop struct {
	queue    *taskqueue.Queue
	executor Executor
	cfg      Config
	log      obs.Logger
}

// New constructs a Loop. A blank cfg.WorkerID generates one via uuid, like
// the teacher's worker.NewRunID.
func New(queue *taskqueue.Queue, executor Executor, cfg Config, log obs.Logger) *Loop {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if log == nil {
		log = obs.NopLogger{}
	}
	return &Loop{queue: queue, executor: executor, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled, running cfg.Concurrency claim workers,
// a lease reaper, and a change-feed listener that only shortens the next
// poll -- it never claims or dispatches a task directly.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	wake := make(chan struct{}, 1)
	nudge := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	for i := 0; i < l.cfg.Concurrency; i++ {
		g.Go(func() error { return l.claimLoop(ctx, wake) })
	}
	g.Go(func() error { return l.reapLoop(ctx) })
	g.Go(func() error { l.watchChanges(ctx, nudge); return nil })

	return g.Wait()
}

// claimLoop repeatedly claims and runs one task at a time, backing off to
// PollInterval (or until nudged by the change feed) when the queue is
// empty. This is the sole dispatch path; the change feed never bypasses it.
func (l *Loop) claimLoop(ctx context.Context, wake <-chan struct{}) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		claimed, err := l.processNext(ctx)
		if err != nil && ctx.Err() == nil {
			l.log.Error("worker_claim_failed", map[string]any{"worker_id": l.cfg.WorkerID, "error": err.Error()})
		}

		next := l.cfg.PollInterval
		if claimed {
			next = 0
		}
		timer.Reset(next)
	}
}

// processNext claims at most one task and runs it. It reports whether a
// task was claimed so the caller can poll again immediately rather than
// waiting a full interval.
func (l *Loop) processNext(ctx context.Context) (bool, error) {
	task, err := l.queue.Claim(ctx, l.cfg.WorkerID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	ctx, span := obs.StartSpan(ctx, "internal/worker", "processNext")
	defer span.End()

	l.log.Info("worker_task_claimed", map[string]any{
		"worker_id": l.cfg.WorkerID, "task_id": task.ID, "attempt": task.Attempts,
	})

	renewCtx, stopRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		l.renewLease(renewCtx, task.ID)
	}()

	_, runErr := l.executor.Run(ctx, *task)

	stopRenew()
	<-renewDone

	if runErr != nil {
		l.log.Error("worker_task_failed", map[string]any{
			"worker_id": l.cfg.WorkerID, "task_id": task.ID, "error": runErr.Error(),
			"terminal": ReclassifyIfNotRetryable(runErr),
		})
		if ferr := l.queue.Fail(ctx, *task, runErr); ferr != nil {
			return true, ferr
		}
		return true, nil
	}

	l.log.Info("worker_task_succeeded", map[string]any{"worker_id": l.cfg.WorkerID, "task_id": task.ID})
	if err := l.queue.Succeed(ctx, task.ID); err != nil {
		return true, err
	}
	return true, nil
}

// renewLease extends the claimed task's lease at half its duration until
// renewCtx is cancelled, so long-running stages (URL fetch, LLM enrichment)
// don't have their task reclaimed by the reaper out from under them.
func (l *Loop) renewLease(renewCtx context.Context, taskID string) {
	interval := l.cfg.LeaseDuration / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-renewCtx.Done():
			return
		case <-ticker.C:
			if err := l.queue.RenewLease(renewCtx, taskID, l.cfg.WorkerID); err != nil && renewCtx.Err() == nil {
				l.log.Error("worker_lease_renew_failed", map[string]any{
					"worker_id": l.cfg.WorkerID, "task_id": taskID, "error": err.Error(),
				})
			}
		}
	}
}

// reapLoop periodically resets Reserved/Processing rows whose lease has
// expired back to Pending (spec.md §4.1's reaper; attempts are unchanged).
func (l *Loop) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.queue.ReapExpiredLeases(ctx)
			if err != nil {
				l.log.Error("worker_reap_failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				l.log.Info("worker_reaped_leases", map[string]any{"count": n})
			}
		}
	}
}

// watchChanges subscribes to the queue's change feed purely as a wake-up
// hint; any event (or a dropped/reconnecting subscription) nudges the claim
// loops to poll immediately instead of waiting out PollInterval. Per
// spec.md §9, consumers must tolerate reordering and gaps on reconnect --
// this code never trusts the feed's content, only its occurrence.
func (l *Loop) watchChanges(ctx context.Context, nudge func()) {
	for {
		if ctx.Err() != nil {
			return
		}
		ch, err := l.queue.SubscribeChanges(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error("worker_subscribe_failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for range ch {
			nudge()
		}
		// Channel closed: the backend dropped the subscription. Nudge the
		// claim loops to re-read the queue, then loop back around and
		// resubscribe; the claim loops keep polling meanwhile.
		if ctx.Err() != nil {
			return
		}
		nudge()
	}
}

// ReclassifyIfNotRetryable surfaces whether err's kind makes task
// non-retryable, for callers that want to short-circuit before invoking
// Fail (e.g. to log differently for validation vs transient failures).
func ReclassifyIfNotRetryable(err error) bool {
	return !apperr.Retryable(err)
}
