// Package notify provides a Redis pub/sub fan-out as a secondary,
// lighter-weight source for the Worker Loop's change-feed wake-up hint
// (spec.md §4.1, §9), used alongside the Store's native change feed
// (Postgres LISTEN/NOTIFY, internal/store/postgres.Store.SubscribeChanges)
// rather than in place of it. Neither feed is a source of truth: a claim is
// always a conditional UPDATE against the Store, the feed only decides how
// soon the next claim attempt happens.
package notify

import (
	"context"

	"github.com/redis/go-redis/v9"

	"knowledgecore/internal/store"
)

// Redis is a best-effort pub/sub wake-up channel backing taskqueue.Queue's
// SubscribeChanges fan-in. Payloads carry no task data; like the Store's own
// feed, receipt of any message is the only signal consumers may rely on.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis dials addr lazily (go-redis connects on first use) and binds to
// channel, defaulting to "knowledgecore:task_changes" when empty.
func NewRedis(addr, channel string) *Redis {
	if channel == "" {
		channel = "knowledgecore:task_changes"
	}
	return &Redis{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Publish nudges any subscriber that something in the task queue changed.
// Callers that ignore the error (fire-and-forget, Redis being unavailable
// must never block or fail task-queue writes) are intentional; the Store's
// own feed remains the durable path.
func (r *Redis) Publish(ctx context.Context) error {
	return r.client.Publish(ctx, r.channel, "change").Err()
}

// Subscribe returns a channel of synthetic store.TaskChange events for
// taskqueue.Queue to fan in alongside the Store's native feed. The channel
// holds at most one unread event; a Redis message that arrives while one is
// unread adds none. The channel closes when ctx is done or the subscription
// drops.
func (r *Redis) Subscribe(ctx context.Context) (<-chan store.TaskChange, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan store.TaskChange, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- store.TaskChange{Action: store.ChangeUpdate}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
