// Package queue implements the write-behind mutation queue.
//
// Every method is a short, independent store operation. The store is
// normally a store.SafeStore, which logs engine failures; the queue swallows
// them on the enqueue and counting paths so the user's action still appears
// to succeed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// Backoff delays the retry of transiently failed items. The zero value
// disables it, matching plain "retry everything on every drain" behavior.
type Backoff struct {
	Enabled bool
	Base    time.Duration
	Max     time.Duration
}

// Delay returns the wait before attempt number retries+1.
func (b Backoff) Delay(retries int) time.Duration {
	if !b.Enabled || b.Base <= 0 || retries <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retries; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Queue is the persisted FIFO of write intents.
type Queue struct {
	store   ports.MutationStorePort
	logger  *logging.Logger
	backoff Backoff
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithBackoff enables delayed retries.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		q.backoff = b
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates a queue over store.
func New(store ports.MutationStorePort, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a write intent with status pending and returns its ID.
// Only a malformed mutation is reported as an error; if the store rejects
// the insert the returned ID is zero and the error is dropped.
func (q *Queue) Enqueue(ctx context.Context, method offline.Method, url string, body json.RawMessage, extraHeaders map[string]string) (int64, error) {
	m, err := offline.NewQueuedMutation(method, url, body, extraHeaders, q.now())
	if err != nil {
		return 0, err
	}

	id, err := q.store.InsertMutation(ctx, m)
	if err != nil {
		return 0, nil
	}

	q.logger.DebugContext(ctx, "mutation queued",
		"mutation_id", id,
		"method", string(method),
		"url", url,
	)
	return id, nil
}

// DequeuePending returns a snapshot of every retryable item in FIFO order.
// With backoff enabled, items whose next attempt is still in the future are
// left out. Items are not removed; the caller marks each one as it goes.
func (q *Queue) DequeuePending(ctx context.Context) []*offline.QueuedMutation {
	items, err := q.store.QueryMutationsByStatus(ctx, offline.StatusPending, offline.StatusFailedTransient)
	if err != nil {
		return nil
	}
	if !q.backoff.Enabled {
		return items
	}

	now := q.now()
	due := items[:0]
	for _, m := range items {
		if m.NextAttemptAt.IsZero() || !m.NextAttemptAt.After(now) {
			due = append(due, m)
		}
	}
	return due
}

// MarkSyncing claims id for replay. It reports false when the item was
// removed or is already in flight, in which case the caller must not send it.
func (q *Queue) MarkSyncing(ctx context.Context, id int64) (bool, error) {
	return q.store.ClaimMutation(ctx, id)
}

// MarkPending returns id to the queue after a transient failure, bumping its
// retry count and recording cause.
func (q *Queue) MarkPending(ctx context.Context, id int64, cause error) error {
	return q.update(ctx, id, func(m *offline.QueuedMutation) {
		m.Status = offline.StatusPending
		m.Retries++
		if cause != nil {
			m.LastError = cause.Error()
		}
		if d := q.backoff.Delay(m.Retries); d > 0 {
			m.NextAttemptAt = q.now().Add(d)
		}
	})
}

// Release returns an in-flight id to pending without counting a retry.
// Used when a drain is interrupted by shutdown rather than by a failure.
func (q *Queue) Release(ctx context.Context, id int64) error {
	return q.update(ctx, id, func(m *offline.QueuedMutation) {
		m.Status = offline.StatusPending
	})
}

// Remove deletes id. Used after success and after a definitive rejection.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	return q.store.DeleteMutation(ctx, id)
}

// PendingCount returns the number of items still in the persisted queue.
// A store failure counts as zero.
func (q *Queue) PendingCount(ctx context.Context) int {
	n, err := q.store.CountMutations(ctx)
	if err != nil {
		return 0
	}
	return n
}

// RecoverStale resets items left in syncing by an unclean shutdown so the
// next drain retries them. It returns how many were reset. The caller must
// hold the drain lease; otherwise it would reset a live drain's items.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	stale, err := q.store.QueryMutationsByStatus(ctx, offline.StatusSyncing)
	if err != nil {
		return 0, err
	}
	for _, m := range stale {
		m.Status = offline.StatusPending
		if err := q.store.UpdateMutation(ctx, m); err != nil && !errors.Is(err, domainErrors.ErrNotFound) {
			return 0, err
		}
	}
	if len(stale) > 0 {
		q.logger.InfoContext(ctx, "recovered stale syncing mutations", "count", len(stale))
	}
	return len(stale), nil
}

// List returns every queued item, including in-flight ones, in FIFO order.
func (q *Queue) List(ctx context.Context) ([]*offline.QueuedMutation, error) {
	return q.store.QueryMutationsByStatus(ctx)
}

func (q *Queue) update(ctx context.Context, id int64, fn func(*offline.QueuedMutation)) error {
	m, err := q.store.GetMutation(ctx, id)
	if err != nil {
		return fmt.Errorf("load mutation %d: %w", id, err)
	}
	fn(m)
	if err := q.store.UpdateMutation(ctx, m); err != nil {
		return fmt.Errorf("update mutation %d: %w", id, err)
	}
	return nil
}
