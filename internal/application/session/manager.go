// Package session keeps the signed-in user and the bearer credential.
//
// The durable record is authoritative, since another process sharing the
// store may log in or out at any time. The in-memory copy avoids decrypting
// an unchanged record and stands in while the store is unavailable.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// Store is the slice of the durable store the manager needs.
type Store interface {
	ports.SessionStorePort
	Clear(ctx context.Context, table ports.Table) error
}

// Claims are the fields read from an access token. The token is not
// verified; the server remains the authority on its validity.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// ParseClaims reads the subject and expiry of a JWT access token.
func ParseClaims(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("parsing access token: %w", err)
	}
	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

// Manager owns the current session.
type Manager struct {
	store     Store
	encryptor *crypto.Encryptor
	logger    *logging.Logger
	now       func() time.Time

	mu      sync.RWMutex
	current *offline.SessionRecord
}

// Option configures a Manager.
type Option func(*Manager)

// WithEncryptor seals tokens before they are persisted.
func WithEncryptor(e *crypto.Encryptor) Option {
	return func(m *Manager) {
		m.encryptor = e
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a session manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Save records a fresh login. The user ID is taken from the access token's
// subject when the token is a JWT. A failure to persist is not an error;
// the session then lives in memory only.
func (m *Manager) Save(ctx context.Context, tokens offline.Tokens, user json.RawMessage) (*offline.SessionRecord, error) {
	if tokens.AccessToken == "" {
		return nil, domainErrors.NewError(domainErrors.CodeValidation, "access token is required", nil)
	}

	rec := &offline.SessionRecord{
		User:    user,
		Tokens:  tokens,
		SavedAt: m.now(),
	}
	if claims, err := ParseClaims(tokens.AccessToken); err == nil {
		rec.UserID = claims.Subject
	}

	m.mu.Lock()
	m.current = rec
	m.mu.Unlock()

	persisted, err := m.seal(rec)
	if err != nil {
		m.logger.WarnContext(ctx, "session not persisted", "error", err)
		return rec, nil
	}
	_ = m.store.PutSession(ctx, persisted)

	m.logger.InfoContext(ctx, "session saved", "user_id", rec.UserID)
	return rec, nil
}

// Current returns the session. The durable record is re-read on every call
// and replaces the in-memory copy when it was saved at a different time;
// a missing record means the user signed out.
func (m *Manager) Current(ctx context.Context) (*offline.SessionRecord, bool) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	stored, err := m.store.GetSession(ctx)
	switch {
	case errors.Is(err, domainErrors.ErrNotFound):
		m.mu.Lock()
		if m.current == cur {
			m.current = nil
		}
		m.mu.Unlock()
		return nil, false
	case err != nil:
		return cur, cur != nil
	}

	if cur != nil && stored.SavedAt.Equal(cur.SavedAt) {
		return cur, true
	}
	rec, err := m.open(stored)
	if err != nil {
		m.logger.WarnContext(ctx, "stored session unreadable", "error", err)
		return cur, cur != nil
	}

	m.mu.Lock()
	m.current = rec
	m.mu.Unlock()
	return rec, true
}

// AccessToken returns the current bearer token, or "" when signed out.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	rec, ok := m.Current(ctx)
	if !ok {
		return "", nil
	}
	return rec.Tokens.AccessToken, nil
}

// Expired reports whether the current access token carries an expiry in the
// past. Tokens without an expiry, or that are not JWTs, never expire here.
func (m *Manager) Expired(ctx context.Context) bool {
	token, _ := m.AccessToken(ctx)
	if token == "" {
		return false
	}
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return m.now().After(claims.ExpiresAt)
}

// Clear signs out, removing the session from memory and the durable store.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if err := m.store.Clear(ctx, ports.TableSession); err != nil && !errors.Is(err, domainErrors.ErrStoreUnavailable) {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (m *Manager) seal(rec *offline.SessionRecord) (*offline.SessionRecord, error) {
	out := *rec
	if m.encryptor == nil {
		return &out, nil
	}
	var err error
	if out.Tokens.AccessToken, err = m.encryptor.Seal(rec.Tokens.AccessToken); err != nil {
		return nil, err
	}
	if out.Tokens.RefreshToken, err = m.encryptor.Seal(rec.Tokens.RefreshToken); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *Manager) open(rec *offline.SessionRecord) (*offline.SessionRecord, error) {
	out := *rec
	if !crypto.IsSealed(rec.Tokens.AccessToken) && !crypto.IsSealed(rec.Tokens.RefreshToken) {
		return &out, nil
	}
	if m.encryptor == nil {
		return nil, errors.New("session is sealed but no encryptor is configured")
	}
	var err error
	if out.Tokens.AccessToken, err = m.encryptor.Open(rec.Tokens.AccessToken); err != nil {
		return nil, err
	}
	if out.Tokens.RefreshToken, err = m.encryptor.Open(rec.Tokens.RefreshToken); err != nil {
		return nil, err
	}
	return &out, nil
}
