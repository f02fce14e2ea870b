package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/adapters/connectivity"
	"github.com/jbctechsolutions/schoolsync/internal/adapters/store"
	"github.com/jbctechsolutions/schoolsync/internal/adapters/store/memory"
	"github.com/jbctechsolutions/schoolsync/internal/adapters/transport/httpapi"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

type staticBase string

func (b staticBase) BaseURL() string { return string(b) }

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

// deadURL returns the address of a server that is no longer listening.
func deadURL(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.NotFoundHandler())
	u := s.URL
	s.Close()
	return u
}

func newLayer(base string, st *memory.Store, status *connectivity.Status, opts ...Option) *Layer {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(httpapi.NewClient(httpapi.WithLogger(logging.Discard())), st, staticBase(base), status, opts...)
}

func TestLayer_ReadCachesSuccess(t *testing.T) {
	ctx := context.Background()
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		if r.URL.Query().Get("class_id") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"first_name":"Amy"}]`))
	}))
	defer server.Close()

	st := memory.New()
	l := newLayer(server.URL, st, connectivity.NewStatus(true), WithCredentials(staticToken("abc")))

	res, err := l.Read(ctx, "/pupils", map[string]any{"class_id": 5})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !res.Success || res.Offline || res.FromCache {
		t.Errorf("Read() = %+v, want live success", res)
	}
	if got := auth.Load(); got != "Bearer abc" {
		t.Errorf("Authorization = %v", got)
	}

	l.Wait()
	entry, err := st.GetCacheEntry(ctx, "/pupils?class_id=5")
	if err != nil {
		t.Fatalf("cache entry not written: %v", err)
	}
	if string(entry.Payload) != `[{"id":1,"first_name":"Amy"}]` {
		t.Errorf("payload = %s", entry.Payload)
	}
}

func TestLayer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := json.RawMessage(`{"pupils":[{"id":7}],"total":1}`)

	st := memory.New()
	key := offline.BuildCacheKey("/pupils", map[string]any{"b": 2, "a": 1})
	if err := st.PutCacheEntry(ctx, &offline.CacheEntry{Key: key, Payload: payload, CachedAt: time.Now()}); err != nil {
		t.Fatalf("PutCacheEntry() error = %v", err)
	}

	l := newLayer(deadURL(t), st, connectivity.NewStatus(true))
	res, err := l.Read(ctx, "/pupils", map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(res.Data) != string(payload) {
		t.Errorf("Data = %s, want %s", res.Data, payload)
	}
	if !res.Offline || !res.FromCache || res.Stale {
		t.Errorf("flags = %+v", res)
	}
}

func TestLayer_NoCachedData(t *testing.T) {
	l := newLayer(deadURL(t), memory.New(), connectivity.NewStatus(true))

	_, err := l.Read(context.Background(), "/fees", nil)
	if !errors.Is(err, domainErrors.ErrNoCachedData) {
		t.Fatalf("Read() error = %v, want ErrNoCachedData", err)
	}
	var reqErr *domainErrors.RequestError
	if !errors.As(err, &reqErr) {
		t.Errorf("original failure not preserved: %v", err)
	}
}

func TestLayer_ServerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such pupil"}`))
	}))
	defer server.Close()

	st := memory.New()
	_ = st.PutCacheEntry(ctx, &offline.CacheEntry{Key: "/pupils/9", Payload: json.RawMessage(`{}`), CachedAt: time.Now()})

	l := newLayer(server.URL, st, connectivity.NewStatus(true))
	res, err := l.Read(ctx, "/pupils/9", nil)
	if err == nil {
		t.Fatalf("Read() = %+v, want error", res)
	}
	if !domainErrors.IsDefinitive(err) {
		t.Errorf("error = %v, want the 404", err)
	}
}

func TestLayer_DeviceOfflineSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	st := memory.New()
	_ = st.PutCacheEntry(ctx, &offline.CacheEntry{Key: "/classes", Payload: json.RawMessage(`[]`), CachedAt: time.Now()})

	l := newLayer(server.URL, st, connectivity.NewStatus(false))
	res, err := l.Read(ctx, "/classes", nil)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !res.FromCache {
		t.Error("FromCache = false")
	}
	if hits.Load() != 0 {
		t.Error("network attempted while offline")
	}

	if _, err := l.Read(ctx, "/other", nil); !errors.Is(err, domainErrors.ErrOffline) {
		t.Errorf("uncached offline read error = %v, want ErrOffline in chain", err)
	}
}

func TestLayer_StaleStillServed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	st := memory.New()
	_ = st.PutCacheEntry(ctx, &offline.CacheEntry{
		Key:      "/timetable",
		Payload:  json.RawMessage(`{"week":18}`),
		CachedAt: now.Add(-48 * time.Hour),
	})

	l := newLayer(deadURL(t), st, connectivity.NewStatus(true),
		WithMaxAge(24*time.Hour), WithClock(func() time.Time { return now }))

	res, err := l.Read(ctx, "/timetable", nil)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !res.Stale || string(res.Data) != `{"week":18}` {
		t.Errorf("Read() = %+v, want stale payload", res)
	}
}

func TestLayer_RegisteredPaths(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	st := memory.New()
	l := newLayer(server.URL, st, connectivity.NewStatus(true), WithRegisteredPaths("/pupils", "/classes"))

	_, _ = l.Read(ctx, "/pupils/1", nil)
	_, _ = l.Read(ctx, "/reports/daily", nil)
	l.Wait()

	if _, err := st.GetCacheEntry(ctx, "/pupils/1"); err != nil {
		t.Errorf("registered path not cached: %v", err)
	}
	if _, err := st.GetCacheEntry(ctx, "/reports/daily"); !errors.Is(err, domainErrors.ErrNotFound) {
		t.Errorf("unregistered path cached: %v", err)
	}

	tests := map[string]bool{"/pupils": true, "/classes/3": true, "/fees": false}
	for path, want := range tests {
		if got := l.Cacheable(path); got != want {
			t.Errorf("Cacheable(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLayer_CacheWriteFailureDoesNotFailRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	broken := store.NewSafeStore(nil, logging.Discard())
	l := New(httpapi.NewClient(httpapi.WithLogger(logging.Discard())), broken, staticBase(server.URL),
		connectivity.NewStatus(true), WithLogger(logging.Discard()))

	res, err := l.Read(context.Background(), "/pupils", nil)
	l.Wait()
	if err != nil || !res.Success {
		t.Errorf("Read() = %+v, %v; want success", res, err)
	}
}
