// Package testutil provides test fixtures and helpers for testing.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

// NewMutation creates a pending mutation for testing.
func NewMutation(method offline.Method, url, body string) *offline.QueuedMutation {
	var raw json.RawMessage
	if body != "" {
		raw = json.RawMessage(body)
	}
	return &offline.QueuedMutation{
		Method:    method,
		URL:       url,
		Body:      raw,
		Status:    offline.StatusPending,
		CreatedAt: time.Now(),
	}
}

// NewCacheEntry creates a cache entry stored at cachedAt.
func NewCacheEntry(key, payload string, cachedAt time.Time) *offline.CacheEntry {
	return &offline.CacheEntry{Key: key, Payload: json.RawMessage(payload), CachedAt: cachedAt}
}

// StaticBaseURL is a fixed base URL resolver.
type StaticBaseURL string

// BaseURL returns the fixed URL.
func (s StaticBaseURL) BaseURL() string { return string(s) }

// StaticToken is a fixed credential source.
type StaticToken string

// AccessToken returns the fixed token.
func (s StaticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

// RecordedRequest is one request seen by a RecordingServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
	Header http.Header
}

// RecordingServer is an httptest server that records requests and replies
// with a configurable status and body.
type RecordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	status   int
	body     string
}

// NewRecordingServer starts a server answering 200 with an empty JSON object.
// It is closed when the test ends.
func NewRecordingServer(t *testing.T) *RecordingServer {
	t.Helper()
	s := &RecordingServer{status: http.StatusOK, body: `{}`}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(data),
			Header: r.Header.Clone(),
		})
		status, body := s.status, s.body
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

// Respond sets the status and body of subsequent replies.
func (s *RecordingServer) Respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// Requests returns a copy of every request seen so far.
func (s *RecordingServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// DeadURL returns the address of a server that is no longer listening, for
// simulating connectivity failures.
func DeadURL(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.NotFoundHandler())
	u := s.URL
	s.Close()
	return u
}
