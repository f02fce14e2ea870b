package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

// Store implements ports.DurableStorePort on top of a Connection.
type Store struct {
	conn *Connection
}

// Ensure Store implements DurableStorePort.
var _ ports.DurableStorePort = (*Store)(nil)

// NewStore returns a store over an already opened connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Open creates a connection at dbPath, runs migrations and returns the store.
// An empty dbPath selects the default location.
func Open(dbPath string) (*Store, error) {
	conn, err := NewConnection(dbPath)
	if err != nil {
		return nil, err
	}
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return NewStore(conn), nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) db() (*sql.DB, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrStoreUnavailable, err)
	}
	return db, nil
}

// PutCacheEntry upserts a cached response.
func (s *Store) PutCacheEntry(ctx context.Context, entry *offline.CacheEntry) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO cached_responses (key, payload, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at
	`, entry.Key, string(entry.Payload), toNanos(entry.CachedAt))
	if err != nil {
		return fmt.Errorf("put cache entry %q: %w", entry.Key, err)
	}
	return nil
}

// GetCacheEntry returns the cached response for key.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*offline.CacheEntry, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var payload string
	var cachedAt int64
	err = db.QueryRowContext(ctx,
		`SELECT payload, cached_at FROM cached_responses WHERE key = ?`, key,
	).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry %q: %w", key, err)
	}

	return &offline.CacheEntry{
		Key:      key,
		Payload:  json.RawMessage(payload),
		CachedAt: fromNanos(cachedAt),
	}, nil
}

// DeleteCacheEntry removes the cached response for key.
func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM cached_responses WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry %q: %w", key, err)
	}
	return nil
}

// InsertMutation appends m to the queue and sets m.ID.
func (s *Store) InsertMutation(ctx context.Context, m *offline.QueuedMutation) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	headers, err := encodeHeaders(m.ExtraHeaders)
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO queued_mutations
			(method, url, body, extra_headers, status, retries, created_at, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(m.Method), m.URL, nullableJSON(m.Body), headers, string(m.Status),
		m.Retries, toNanos(m.CreatedAt), toNanos(m.NextAttemptAt), m.LastError,
	)
	if err != nil {
		return 0, fmt.Errorf("insert mutation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert mutation: %w", err)
	}
	m.ID = id
	return id, nil
}

// GetMutation returns the mutation with id.
func (s *Store) GetMutation(ctx context.Context, id int64) (*offline.QueuedMutation, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, selectMutations+` WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation %d: %w", id, err)
	}
	return m, nil
}

// UpdateMutation overwrites the row for m.ID.
func (s *Store) UpdateMutation(ctx context.Context, m *offline.QueuedMutation) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	headers, err := encodeHeaders(m.ExtraHeaders)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE queued_mutations SET
			method = ?, url = ?, body = ?, extra_headers = ?, status = ?,
			retries = ?, created_at = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`,
		string(m.Method), m.URL, nullableJSON(m.Body), headers, string(m.Status),
		m.Retries, toNanos(m.CreatedAt), toNanos(m.NextAttemptAt), m.LastError, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update mutation %d: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mutation %d: %w", m.ID, err)
	}
	if n == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

// ClaimMutation flips id to syncing if it is still pending or
// failed-transient. The check and the write are one statement, so only one
// connection, in any process, can win.
func (s *Store) ClaimMutation(ctx context.Context, id int64) (bool, error) {
	db, err := s.db()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE queued_mutations SET status = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(offline.StatusSyncing), id, string(offline.StatusPending), string(offline.StatusFailedTransient))
	if err != nil {
		return false, fmt.Errorf("claim mutation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim mutation %d: %w", id, err)
	}
	return n == 1, nil
}

// QueryMutationsByStatus returns mutations in FIFO order.
func (s *Store) QueryMutationsByStatus(ctx context.Context, statuses ...offline.MutationStatus) ([]*offline.QueuedMutation, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	where, args := statusFilter(statuses)
	rows, err := db.QueryContext(ctx, selectMutations+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var result []*offline.QueuedMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	return result, nil
}

// CountMutations counts mutations matching statuses.
func (s *Store) CountMutations(ctx context.Context, statuses ...offline.MutationStatus) (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	where, args := statusFilter(statuses)
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_mutations`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return count, nil
}

// DeleteMutation removes the mutation with id.
func (s *Store) DeleteMutation(ctx context.Context, id int64) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM queued_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete mutation %d: %w", id, err)
	}
	return nil
}

// PutSession overwrites the single session row.
func (s *Store) PutSession(ctx context.Context, rec *offline.SessionRecord) error {
	db, err := s.db()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO session (key, user_id, user, access_token, refresh_token, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		offline.SessionKey, rec.UserID, nullableJSON(rec.User),
		rec.Tokens.AccessToken, rec.Tokens.RefreshToken, toNanos(rec.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession returns the stored session row.
func (s *Store) GetSession(ctx context.Context) (*offline.SessionRecord, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	var rec offline.SessionRecord
	var user sql.NullString
	var savedAt int64
	err = db.QueryRowContext(ctx, `
		SELECT user_id, user, access_token, refresh_token, saved_at
		FROM session WHERE key = ?
	`, offline.SessionKey).Scan(
		&rec.UserID, &user, &rec.Tokens.AccessToken, &rec.Tokens.RefreshToken, &savedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainErrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if user.Valid {
		rec.User = json.RawMessage(user.String)
	}
	rec.SavedAt = fromNanos(savedAt)
	return &rec, nil
}

// AcquireLease takes the named lease. The upsert only overwrites a row that
// is expired or already owned by owner; otherwise no row changes.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, now, until time.Time) (bool, error) {
	db, err := s.db()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO leases (name, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= ?
	`, name, owner, toNanos(until), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return n > 0, nil
}

// RenewLease extends the lease if owner still holds it.
func (s *Store) RenewLease(ctx context.Context, name, owner string, until time.Time) (bool, error) {
	db, err := s.db()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE name = ? AND owner = ?`,
		toNanos(until), name, owner)
	if err != nil {
		return false, fmt.Errorf("renew lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lease %q: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLease drops the lease if owner holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner); err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table ports.Table) (int, error) {
	name, err := tableName(table)
	if err != nil {
		return 0, err
	}
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+name).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return count, nil
}

// Clear removes every row of table.
func (s *Store) Clear(ctx context.Context, table ports.Table) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	db, err := s.db()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM `+name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	return nil
}

const selectMutations = `
	SELECT id, method, url, body, extra_headers, status, retries, created_at, next_attempt_at, last_error
	FROM queued_mutations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*offline.QueuedMutation, error) {
	var m offline.QueuedMutation
	var method, status string
	var body, headers sql.NullString
	var createdAt, nextAttemptAt int64

	if err := row.Scan(
		&m.ID, &method, &m.URL, &body, &headers, &status,
		&m.Retries, &createdAt, &nextAttemptAt, &m.LastError,
	); err != nil {
		return nil, err
	}

	m.Method = offline.Method(method)
	m.Status = offline.MutationStatus(status)
	m.CreatedAt = fromNanos(createdAt)
	m.NextAttemptAt = fromNanos(nextAttemptAt)
	if body.Valid {
		m.Body = json.RawMessage(body.String)
	}
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &m.ExtraHeaders); err != nil {
			return nil, fmt.Errorf("decode extra headers: %w", err)
		}
	}
	return &m, nil
}

func statusFilter(statuses []offline.MutationStatus) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`, args
}

func tableName(t ports.Table) (string, error) {
	switch t {
	case ports.TableCache, ports.TableMutations, ports.TableSession:
		return string(t), nil
	}
	return "", fmt.Errorf("unknown table %q", t)
}

func encodeHeaders(h map[string]string) (any, error) {
	if len(h) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode extra headers: %w", err)
	}
	return string(data), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
