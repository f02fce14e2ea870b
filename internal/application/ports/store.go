// Package ports defines the application layer port interfaces following hexagonal architecture.
// Ports are abstractions that allow the application core to interact with external systems
// (adapters) without knowing their implementation details.
package ports

import (
	"context"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

// Table names one of the three logical tables of the durable store.
type Table string

const (
	TableCache     Table = "cached_responses"
	TableMutations Table = "queued_mutations"
	TableSession   Table = "session"
)

// CacheStorePort persists cached read responses keyed by request signature.
type CacheStorePort interface {
	// PutCacheEntry upserts the entry by key. Last write wins.
	PutCacheEntry(ctx context.Context, entry *offline.CacheEntry) error

	// GetCacheEntry returns the entry for key or errors.ErrNotFound.
	GetCacheEntry(ctx context.Context, key string) (*offline.CacheEntry, error)

	// DeleteCacheEntry removes the entry for key. Missing keys are not an error.
	DeleteCacheEntry(ctx context.Context, key string) error
}

// MutationStorePort persists the write-behind queue.
type MutationStorePort interface {
	// InsertMutation appends m, assigning it the next monotonically increasing ID.
	InsertMutation(ctx context.Context, m *offline.QueuedMutation) (int64, error)

	// GetMutation returns the mutation with id or errors.ErrNotFound.
	GetMutation(ctx context.Context, id int64) (*offline.QueuedMutation, error)

	// UpdateMutation overwrites the stored row for m.ID. It never inserts:
	// a row deleted in the meantime stays deleted and errors.ErrNotFound is
	// returned.
	UpdateMutation(ctx context.Context, m *offline.QueuedMutation) error

	// ClaimMutation atomically moves id from a retryable status to syncing.
	// It reports false when the row is gone or already claimed, so two
	// drains can never both send the same item.
	ClaimMutation(ctx context.Context, id int64) (bool, error)

	// QueryMutationsByStatus returns every mutation whose status is one of
	// statuses, ordered by CreatedAt then ID ascending. No statuses means all.
	QueryMutationsByStatus(ctx context.Context, statuses ...offline.MutationStatus) ([]*offline.QueuedMutation, error)

	// CountMutations counts mutations whose status is one of statuses.
	// No statuses means all.
	CountMutations(ctx context.Context, statuses ...offline.MutationStatus) (int, error)

	// DeleteMutation removes the mutation with id. Missing IDs are not an error.
	DeleteMutation(ctx context.Context, id int64) error
}

// SessionStorePort persists the single per-device session record.
type SessionStorePort interface {
	// PutSession overwrites the session record.
	PutSession(ctx context.Context, rec *offline.SessionRecord) error

	// GetSession returns the session record or errors.ErrNotFound.
	GetSession(ctx context.Context) (*offline.SessionRecord, error)
}

// LeaseStorePort holds named, expiring locks shared by every process that
// opens the same store.
type LeaseStorePort interface {
	// AcquireLease takes name for owner until the given time. It succeeds
	// when the lease is free, expired at now, or already held by owner.
	AcquireLease(ctx context.Context, name, owner string, now, until time.Time) (bool, error)

	// RenewLease extends a lease owner still holds. It reports false when
	// the lease was lost.
	RenewLease(ctx context.Context, name, owner string, until time.Time) (bool, error)

	// ReleaseLease drops the lease if owner holds it.
	ReleaseLease(ctx context.Context, name, owner string) error
}

// DurableStorePort is the transactional local store shared by the cache
// layer, the mutation queue and the session manager. Every method is a
// short, independent unit of work; no transaction spans a network call.
type DurableStorePort interface {
	CacheStorePort
	MutationStorePort
	SessionStorePort
	LeaseStorePort

	// Count returns the number of rows in table.
	Count(ctx context.Context, table Table) (int, error)

	// Clear removes every row of table.
	Clear(ctx context.Context, table Table) error

	// Close releases the underlying storage engine.
	Close() error
}
