// Package memory provides an in-process implementation of the durable store.
// It is used by tests and by the "memory" storage driver; nothing survives a
// restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

type lease struct {
	owner   string
	expires time.Time
}

// Store implements ports.DurableStorePort with maps guarded by a mutex.
type Store struct {
	mu        sync.RWMutex
	cache     map[string]*offline.CacheEntry
	mutations map[int64]*offline.QueuedMutation
	session   *offline.SessionRecord
	leases    map[string]lease
	nextID    int64
	closed    bool
}

// Ensure Store implements DurableStorePort.
var _ ports.DurableStorePort = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		cache:     make(map[string]*offline.CacheEntry),
		mutations: make(map[int64]*offline.QueuedMutation),
		leases:    make(map[string]lease),
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: store closed", domainErrors.ErrStoreUnavailable)
	}
	return nil
}

// PutCacheEntry upserts a cached response.
func (s *Store) PutCacheEntry(_ context.Context, entry *offline.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.cache[entry.Key] = cloneEntry(entry)
	return nil
}

// GetCacheEntry returns the cached response for key.
func (s *Store) GetCacheEntry(_ context.Context, key string) (*offline.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	entry, ok := s.cache[key]
	if !ok {
		return nil, domainErrors.ErrNotFound
	}
	return cloneEntry(entry), nil
}

// DeleteCacheEntry removes the cached response for key.
func (s *Store) DeleteCacheEntry(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.cache, key)
	return nil
}

// InsertMutation appends m and sets m.ID.
func (s *Store) InsertMutation(_ context.Context, m *offline.QueuedMutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.nextID++
	m.ID = s.nextID
	s.mutations[m.ID] = cloneMutation(m)
	return m.ID, nil
}

// GetMutation returns the mutation with id.
func (s *Store) GetMutation(_ context.Context, id int64) (*offline.QueuedMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	m, ok := s.mutations[id]
	if !ok {
		return nil, domainErrors.ErrNotFound
	}
	return cloneMutation(m), nil
}

// UpdateMutation overwrites the stored copy of m.
func (s *Store) UpdateMutation(_ context.Context, m *offline.QueuedMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.mutations[m.ID]; !ok {
		return domainErrors.ErrNotFound
	}
	s.mutations[m.ID] = cloneMutation(m)
	return nil
}

// ClaimMutation flips id to syncing if it is still retryable.
func (s *Store) ClaimMutation(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	m, ok := s.mutations[id]
	if !ok || !m.Status.IsRetryable() {
		return false, nil
	}
	m.Status = offline.StatusSyncing
	return true, nil
}

// QueryMutationsByStatus returns matching mutations in FIFO order.
func (s *Store) QueryMutationsByStatus(_ context.Context, statuses ...offline.MutationStatus) ([]*offline.QueuedMutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var result []*offline.QueuedMutation
	for _, m := range s.mutations {
		if matches(m.Status, statuses) {
			result = append(result, cloneMutation(m))
		}
	}
	slices.SortFunc(result, func(a, b *offline.QueuedMutation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return result, nil
}

// CountMutations counts mutations matching statuses.
func (s *Store) CountMutations(_ context.Context, statuses ...offline.MutationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	for _, m := range s.mutations {
		if matches(m.Status, statuses) {
			count++
		}
	}
	return count, nil
}

// DeleteMutation removes the mutation with id.
func (s *Store) DeleteMutation(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.mutations, id)
	return nil
}

// PutSession overwrites the session record.
func (s *Store) PutSession(_ context.Context, rec *offline.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	cp := *rec
	cp.User = slices.Clone(rec.User)
	s.session = &cp
	return nil
}

// GetSession returns the session record.
func (s *Store) GetSession(_ context.Context) (*offline.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, domainErrors.ErrNotFound
	}
	cp := *s.session
	cp.User = slices.Clone(s.session.User)
	return &cp, nil
}

// AcquireLease takes name for owner when it is free, expired or already
// owned.
func (s *Store) AcquireLease(_ context.Context, name, owner string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if l, ok := s.leases[name]; ok && l.owner != owner && l.expires.After(now) {
		return false, nil
	}
	s.leases[name] = lease{owner: owner, expires: until}
	return true, nil
}

// RenewLease extends a lease owner still holds.
func (s *Store) RenewLease(_ context.Context, name, owner string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	l, ok := s.leases[name]
	if !ok || l.owner != owner {
		return false, nil
	}
	s.leases[name] = lease{owner: owner, expires: until}
	return true, nil
}

// ReleaseLease drops the lease if owner holds it.
func (s *Store) ReleaseLease(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if l, ok := s.leases[name]; ok && l.owner == owner {
		delete(s.leases, name)
	}
	return nil
}

// Count returns the number of rows in table.
func (s *Store) Count(_ context.Context, table ports.Table) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	switch table {
	case ports.TableCache:
		return len(s.cache), nil
	case ports.TableMutations:
		return len(s.mutations), nil
	case ports.TableSession:
		if s.session == nil {
			return 0, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("unknown table %q", table)
}

// Clear removes every row of table.
func (s *Store) Clear(_ context.Context, table ports.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	switch table {
	case ports.TableCache:
		clear(s.cache)
	case ports.TableMutations:
		clear(s.mutations)
	case ports.TableSession:
		s.session = nil
	default:
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}

// Close marks the store closed. Subsequent calls fail with ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func matches(status offline.MutationStatus, statuses []offline.MutationStatus) bool {
	return len(statuses) == 0 || slices.Contains(statuses, status)
}

func cloneEntry(e *offline.CacheEntry) *offline.CacheEntry {
	cp := *e
	cp.Payload = json.RawMessage(slices.Clone([]byte(e.Payload)))
	return &cp
}

func cloneMutation(m *offline.QueuedMutation) *offline.QueuedMutation {
	cp := *m
	if m.Body != nil {
		cp.Body = json.RawMessage(slices.Clone([]byte(m.Body)))
	}
	if m.ExtraHeaders != nil {
		cp.ExtraHeaders = maps.Clone(m.ExtraHeaders)
	}
	return &cp
}
