package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"knowledgecore/internal/domain"
	"knowledgecore/internal/store"
)

func (s *Store) Enqueue(ctx context.Context, payload domain.IngestionPayload, maxAttempts int) (string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO ingestion_task (id, user_id, payload, state, attempts, max_attempts, scheduled_at)
VALUES ($1,$2,$3,$4,0,$5,now())
`, id, payload.UserID, raw, string(domain.TaskPending), maxAttempts)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimNextReady performs the single conditional UPDATE ... RETURNING
// described in spec.md §4.1: select the oldest eligible row and atomically
// reserve it. Zero rows updated (pgx.ErrNoRows) means no task is available.
func (s *Store) ClaimNextReady(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*domain.IngestionTask, error) {
	leaseUntil := now.Add(lease)
	row := s.pool.QueryRow(ctx, `
WITH candidate AS (
	SELECT id FROM ingestion_task
	WHERE (state = $1)
	   OR (state = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at < $4)
	   OR (state = $3 AND scheduled_at <= $4)
	ORDER BY scheduled_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE ingestion_task t
SET state = $5, worker_id = $6, lease_expires_at = $7, attempts = attempts + 1, updated_at = now()
FROM candidate
WHERE t.id = candidate.id
RETURNING t.id, t.user_id, t.payload, t.state, t.attempts, t.max_attempts, t.scheduled_at,
          t.lease_expires_at, t.worker_id, t.last_error, t.created_at, t.updated_at
`,
		string(domain.TaskPending), string(domain.TaskReserved), string(domain.TaskFailed), now,
		string(domain.TaskReserved), workerID, leaseUntil,
	)
	task, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return task, err
}

func (s *Store) RenewLease(ctx context.Context, taskID, workerID string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_task SET lease_expires_at=$1, updated_at=now()
WHERE id=$2 AND worker_id=$3 AND state IN ($4,$5)
`, until, taskID, workerID, string(domain.TaskReserved), string(domain.TaskProcessing))
	return err
}

func (s *Store) MarkSucceeded(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_task SET state=$1, updated_at=now() WHERE id=$2`, string(domain.TaskSucceeded), taskID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, taskID string, cause error, retryAt time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_task SET state=$1, last_error=$2, scheduled_at=$3, updated_at=now()
WHERE id=$4`, string(domain.TaskFailed), msg, retryAt, taskID)
	return err
}

func (s *Store) MarkDeadLetter(ctx context.Context, taskID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_task SET state=$1, last_error=$2, attempts=max_attempts, updated_at=now()
WHERE id=$3`, string(domain.TaskDeadLetter), msg, taskID)
	return err
}

func (s *Store) Cancel(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE ingestion_task SET state=$1, updated_at=now()
WHERE id=$2 AND state NOT IN ($3,$4,$5)`,
		string(domain.TaskCancelled), taskID,
		string(domain.TaskSucceeded), string(domain.TaskCancelled), string(domain.TaskDeadLetter))
	return err
}

func (s *Store) ListUnfinishedFor(ctx context.Context, userID string) ([]domain.IngestionTask, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, payload, state, attempts, max_attempts, scheduled_at, lease_expires_at, worker_id, last_error, created_at, updated_at
FROM ingestion_task
WHERE user_id=$1 AND state NOT IN ($2,$3,$4)
ORDER BY scheduled_at ASC`,
		userID, string(domain.TaskSucceeded), string(domain.TaskCancelled), string(domain.TaskDeadLetter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.IngestionTask
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ReapExpiredLeases resets Reserved/Processing rows whose lease has expired
// back to Pending without touching attempts, per spec.md §4.1.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE ingestion_task
SET state=$1, worker_id='', lease_expires_at=NULL, updated_at=now()
WHERE state IN ($2,$3) AND lease_expires_at IS NOT NULL AND lease_expires_at < $4
`, string(domain.TaskPending), string(domain.TaskReserved), string(domain.TaskProcessing), now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// SubscribeChanges listens on the ingestion_task_changes channel (wired by
// the trigger in schema.go) and re-reads the changed row per notification.
// Per spec.md §9, the stream is a wake-up hint only; the worker loop always
// re-sweeps the queue, so gaps and reordering here are harmless.
func (s *Store) SubscribeChanges(ctx context.Context) (<-chan store.TaskChange, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `LISTEN ingestion_task_changes`); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan store.TaskChange, 16)
	go func() {
		defer conn.Release()
		defer close(out)
		for {
			notif, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			taskID := notif.Payload
			row := s.pool.QueryRow(ctx, `
SELECT id, user_id, payload, state, attempts, max_attempts, scheduled_at, lease_expires_at, worker_id, last_error, created_at, updated_at
FROM ingestion_task WHERE id=$1`, taskID)
			task, err := scanTask(row)
			if err != nil {
				continue
			}
			select {
			case out <- store.TaskChange{Action: store.ChangeUpdate, Task: *task}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.IngestionTask, error) {
	var t domain.IngestionTask
	var payloadRaw []byte
	var state string
	if err := row.Scan(&t.ID, &t.UserID, &payloadRaw, &state, &t.Attempts, &t.MaxAttempts,
		&t.ScheduledAt, &t.LeaseExpiresAt, &t.WorkerID, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.State = domain.TaskState(state)
	if err := json.Unmarshal(payloadRaw, &t.Payload); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTaskRow(rows pgx.Rows) (*domain.IngestionTask, error) {
	return scanTask(rows)
}
