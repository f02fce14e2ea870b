// Package store selects and wraps the durable store implementation.
//
// SafeStore is the persistence failure boundary. The first error coming out
// of the underlying engine is logged and disables the store for the rest of
// the process; from then on, like a store that could not be opened, every
// call fails fast with ErrStoreUnavailable. Callers treat that as "feature
// unavailable this session" rather than as a failure of the user's action.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/schoolsync/internal/adapters/store/sqlite"
	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// SafeStore decorates a DurableStorePort with logging and error normalization.
type SafeStore struct {
	inner  ports.DurableStorePort
	logger *logging.Logger
	failed atomic.Bool
}

// Ensure SafeStore implements DurableStorePort.
var _ ports.DurableStorePort = (*SafeStore)(nil)

// NewSafeStore wraps inner. A nil inner yields a store that is unavailable
// for the lifetime of the process.
func NewSafeStore(inner ports.DurableStorePort, logger *logging.Logger) *SafeStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &SafeStore{inner: inner, logger: logger}
}

// Open builds the store for driver. When the SQLite engine cannot be opened
// the failure is logged and an unavailable SafeStore is returned together
// with the error, so callers may continue without persistence.
func Open(driver, path string, logger *logging.Logger) (*SafeStore, error) {
	switch driver {
	case DriverMemory:
		return NewSafeStore(memory.New(), logger), nil
	case DriverSQLite, "":
		s, err := sqlite.Open(path)
		if err != nil {
			safe := NewSafeStore(nil, logger)
			logging.LogStoreFailure(context.Background(), safe.logger, "open", err)
			return safe, fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
		}
		return NewSafeStore(s, logger), nil
	default:
		return nil, domainErrors.NewError(domainErrors.CodeConfiguration,
			fmt.Sprintf("unknown storage driver %q", driver), nil)
	}
}

// Available reports whether an engine is backing the store and has not
// failed yet.
func (s *SafeStore) Available() bool {
	return s.inner != nil && !s.failed.Load()
}

// fail disables the store on the first engine error. Misses and caller
// cancellation are not engine failures and pass through untouched.
func (s *SafeStore) fail(ctx context.Context, op string, err error) error {
	if err == nil ||
		errors.Is(err, domainErrors.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if s.failed.CompareAndSwap(false, true) {
		logging.LogStoreFailure(ctx, s.logger, op, err)
	}
	if errors.Is(err, domainErrors.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domainErrors.ErrStoreUnavailable, op, err)
}

func (s *SafeStore) unavailable() error {
	if !s.Available() {
		return fmt.Errorf("%w: no storage engine", domainErrors.ErrStoreUnavailable)
	}
	return fmt.Errorf("%w: disabled after an earlier failure", domainErrors.ErrStoreUnavailable)
}

// PutCacheEntry implements ports.CacheStorePort.
func (s *SafeStore) PutCacheEntry(ctx context.Context, entry *offline.CacheEntry) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "put_cache_entry", s.inner.PutCacheEntry(ctx, entry))
}

// GetCacheEntry implements ports.CacheStorePort.
func (s *SafeStore) GetCacheEntry(ctx context.Context, key string) (*offline.CacheEntry, error) {
	if !s.Available() {
		return nil, s.unavailable()
	}
	entry, err := s.inner.GetCacheEntry(ctx, key)
	return entry, s.fail(ctx, "get_cache_entry", err)
}

// DeleteCacheEntry implements ports.CacheStorePort.
func (s *SafeStore) DeleteCacheEntry(ctx context.Context, key string) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "delete_cache_entry", s.inner.DeleteCacheEntry(ctx, key))
}

// InsertMutation implements ports.MutationStorePort.
func (s *SafeStore) InsertMutation(ctx context.Context, m *offline.QueuedMutation) (int64, error) {
	if !s.Available() {
		return 0, s.unavailable()
	}
	id, err := s.inner.InsertMutation(ctx, m)
	return id, s.fail(ctx, "insert_mutation", err)
}

// GetMutation implements ports.MutationStorePort.
func (s *SafeStore) GetMutation(ctx context.Context, id int64) (*offline.QueuedMutation, error) {
	if !s.Available() {
		return nil, s.unavailable()
	}
	m, err := s.inner.GetMutation(ctx, id)
	return m, s.fail(ctx, "get_mutation", err)
}

// UpdateMutation implements ports.MutationStorePort.
func (s *SafeStore) UpdateMutation(ctx context.Context, m *offline.QueuedMutation) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "update_mutation", s.inner.UpdateMutation(ctx, m))
}

// ClaimMutation implements ports.MutationStorePort.
func (s *SafeStore) ClaimMutation(ctx context.Context, id int64) (bool, error) {
	if !s.Available() {
		return false, s.unavailable()
	}
	ok, err := s.inner.ClaimMutation(ctx, id)
	return ok, s.fail(ctx, "claim_mutation", err)
}

// QueryMutationsByStatus implements ports.MutationStorePort.
func (s *SafeStore) QueryMutationsByStatus(ctx context.Context, statuses ...offline.MutationStatus) ([]*offline.QueuedMutation, error) {
	if !s.Available() {
		return nil, s.unavailable()
	}
	items, err := s.inner.QueryMutationsByStatus(ctx, statuses...)
	return items, s.fail(ctx, "query_mutations", err)
}

// CountMutations implements ports.MutationStorePort.
func (s *SafeStore) CountMutations(ctx context.Context, statuses ...offline.MutationStatus) (int, error) {
	if !s.Available() {
		return 0, s.unavailable()
	}
	n, err := s.inner.CountMutations(ctx, statuses...)
	return n, s.fail(ctx, "count_mutations", err)
}

// DeleteMutation implements ports.MutationStorePort.
func (s *SafeStore) DeleteMutation(ctx context.Context, id int64) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "delete_mutation", s.inner.DeleteMutation(ctx, id))
}

// PutSession implements ports.SessionStorePort.
func (s *SafeStore) PutSession(ctx context.Context, rec *offline.SessionRecord) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "put_session", s.inner.PutSession(ctx, rec))
}

// GetSession implements ports.SessionStorePort.
func (s *SafeStore) GetSession(ctx context.Context) (*offline.SessionRecord, error) {
	if !s.Available() {
		return nil, s.unavailable()
	}
	rec, err := s.inner.GetSession(ctx)
	return rec, s.fail(ctx, "get_session", err)
}

// AcquireLease implements ports.LeaseStorePort.
func (s *SafeStore) AcquireLease(ctx context.Context, name, owner string, now, until time.Time) (bool, error) {
	if !s.Available() {
		return false, s.unavailable()
	}
	ok, err := s.inner.AcquireLease(ctx, name, owner, now, until)
	return ok, s.fail(ctx, "acquire_lease", err)
}

// RenewLease implements ports.LeaseStorePort.
func (s *SafeStore) RenewLease(ctx context.Context, name, owner string, until time.Time) (bool, error) {
	if !s.Available() {
		return false, s.unavailable()
	}
	ok, err := s.inner.RenewLease(ctx, name, owner, until)
	return ok, s.fail(ctx, "renew_lease", err)
}

// ReleaseLease implements ports.LeaseStorePort.
func (s *SafeStore) ReleaseLease(ctx context.Context, name, owner string) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "release_lease", s.inner.ReleaseLease(ctx, name, owner))
}

// Count implements ports.DurableStorePort.
func (s *SafeStore) Count(ctx context.Context, table ports.Table) (int, error) {
	if !s.Available() {
		return 0, s.unavailable()
	}
	n, err := s.inner.Count(ctx, table)
	return n, s.fail(ctx, "count_"+string(table), err)
}

// Clear implements ports.DurableStorePort.
func (s *SafeStore) Clear(ctx context.Context, table ports.Table) error {
	if !s.Available() {
		return s.unavailable()
	}
	return s.fail(ctx, "clear_"+string(table), s.inner.Clear(ctx, table))
}

// Close closes the underlying engine.
func (s *SafeStore) Close() error {
	if s.inner == nil {
		return nil
	}
	return s.inner.Close()
}
