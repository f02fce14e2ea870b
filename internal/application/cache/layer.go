// Package cache implements the read-through response cache.
//
// A Layer calls the live API first. Successful replies are written to the
// durable store in the background. When the call fails for lack of
// connectivity, the last stored reply for the same request signature is
// served instead, flagged as coming from the cache.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/tracing"
)

// DefaultMaxAge is the advisory age after which cached replies are flagged stale.
const DefaultMaxAge = 24 * time.Hour

// Layer is the read path of the offline client.
type Layer struct {
	sender       ports.SenderPort
	store        ports.CacheStorePort
	credentials  ports.CredentialPort
	baseURL      ports.BaseURLPort
	connectivity ports.ConnectivityPort
	tracer       *tracing.Tracer
	logger       *logging.Logger

	maxAge     time.Duration
	registered []string
	now        func() time.Time

	writes sync.WaitGroup
}

// Option configures a Layer.
type Option func(*Layer)

// WithMaxAge sets the advisory staleness threshold.
func WithMaxAge(d time.Duration) Option {
	return func(l *Layer) {
		l.maxAge = d
	}
}

// WithRegisteredPaths limits caching to paths with one of the given
// prefixes. No prefixes means every read is cached.
func WithRegisteredPaths(prefixes ...string) Option {
	return func(l *Layer) {
		l.registered = append([]string(nil), prefixes...)
	}
}

// WithCredentials sets the bearer token source.
func WithCredentials(c ports.CredentialPort) Option {
	return func(l *Layer) {
		l.credentials = c
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) {
		l.now = now
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(l *Layer) {
		l.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Layer) {
		l.logger = logger
	}
}

// New creates a cache layer.
func New(sender ports.SenderPort, store ports.CacheStorePort, baseURL ports.BaseURLPort, connectivity ports.ConnectivityPort, opts ...Option) *Layer {
	l := &Layer{
		sender:       sender,
		store:        store,
		baseURL:      baseURL,
		connectivity: connectivity,
		tracer:       tracing.Default(),
		logger:       logging.Default(),
		maxAge:       DefaultMaxAge,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Read performs a GET of path with params.
//
// While the device reports itself offline the network is not attempted. On a
// connectivity failure the cached reply is returned with Offline and
// FromCache set; if there is none, the error wraps both ErrNoCachedData and
// the original failure. Any other failure is returned unchanged.
func (l *Layer) Read(ctx context.Context, path string, params map[string]any) (*offline.Result, error) {
	key := offline.BuildCacheKey(path, params)
	ctx = logging.WithCacheKey(ctx, key)
	ctx, span := l.tracer.StartReadSpan(ctx, key)

	var err error
	if l.connectivity.IsOnline() {
		var resp *ports.Response
		resp, err = l.fetch(ctx, path, params)
		if err == nil {
			l.remember(ctx, path, key, resp)
			span.End()
			return &offline.Result{Success: true, Data: resp.Body}, nil
		}
		if !domainErrors.Classify(err, !l.connectivity.IsOnline()).IsConnectivityError {
			span.EndWithError(err)
			return nil, err
		}
	} else {
		err = domainErrors.ErrOffline
	}

	entry, lookupErr := l.store.GetCacheEntry(ctx, key)
	if lookupErr != nil {
		logging.LogCacheFallback(ctx, l.logger, key, false, false)
		err = fmt.Errorf("%w: %w", domainErrors.ErrNoCachedData, err)
		span.EndWithError(err)
		return nil, err
	}

	stale := entry.IsStale(l.maxAge, l.now())
	logging.LogCacheFallback(ctx, l.logger, key, true, stale)
	span.SetFromCache(stale)
	span.End()

	msg := "Showing saved data while offline"
	if stale {
		msg = "Showing saved data from " + entry.CachedAt.Format(time.RFC822) + " while offline"
	}
	return &offline.Result{
		Success:   true,
		Data:      entry.Payload,
		Message:   msg,
		Offline:   true,
		FromCache: true,
		Stale:     stale,
	}, nil
}

// Wait blocks until every background cache write has finished.
func (l *Layer) Wait() {
	l.writes.Wait()
}

// Cacheable reports whether replies for path are stored.
func (l *Layer) Cacheable(path string) bool {
	if len(l.registered) == 0 {
		return true
	}
	for _, prefix := range l.registered {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (l *Layer) fetch(ctx context.Context, path string, params map[string]any) (*ports.Response, error) {
	req := &ports.Request{
		Method:  "GET",
		URL:     offline.ResolveURL(l.base(), path),
		Query:   offline.QueryValues(params),
		Headers: map[string]string{},
	}
	if l.credentials != nil {
		token, err := l.credentials.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Headers["Authorization"] = "Bearer " + token
		}
	}
	return l.sender.Send(ctx, req)
}

// remember stores resp under key without holding up the caller. Failures
// are logged by the store boundary and otherwise ignored.
func (l *Layer) remember(ctx context.Context, path, key string, resp *ports.Response) {
	if !l.Cacheable(path) || len(resp.Body) == 0 {
		return
	}
	entry := &offline.CacheEntry{
		Key:      key,
		Payload:  append([]byte(nil), resp.Body...),
		CachedAt: l.now(),
	}
	ctx = context.WithoutCancel(ctx)

	l.writes.Add(1)
	go func() {
		defer l.writes.Done()
		if err := l.store.PutCacheEntry(ctx, entry); err != nil {
			l.logger.DebugContext(ctx, "cache write skipped", "error", err)
		}
	}()
}

func (l *Layer) base() string {
	if l.baseURL == nil {
		return ""
	}
	return l.baseURL.BaseURL()
}
