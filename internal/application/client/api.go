// Package client is the offline-aware facade the UI layer calls.
//
// Reads go through the cache layer. Writes are sent live when possible and
// queued when the device cannot reach the API, in which case the caller gets
// an optimistic result echoing the submitted body.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jbctechsolutions/schoolsync/internal/application/cache"
	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	"github.com/jbctechsolutions/schoolsync/internal/application/monitor"
	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	"github.com/jbctechsolutions/schoolsync/internal/application/queue"
	"github.com/jbctechsolutions/schoolsync/internal/application/session"
	"github.com/jbctechsolutions/schoolsync/internal/application/syncengine"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// QueuedMessage is the message of an optimistic write result.
const QueuedMessage = "Saved offline. Changes will sync when you are back online."

// Deps are the collaborators of an API.
type Deps struct {
	Store        ports.DurableStorePort
	Sender       ports.SenderPort
	BaseURL      ports.BaseURLPort
	Connectivity ports.ConnectivityPort
	Session      *session.Manager
	Cache        *cache.Layer
	Queue        *queue.Queue
	Engine       *syncengine.Engine
	Monitor      *monitor.Monitor
	Bus          *events.Bus
	Logger       *logging.Logger
}

// API is the offline-first client.
type API struct {
	Deps
}

// New creates an API.
func New(deps Deps) *API {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &API{Deps: deps}
}

// WriteOption adjusts a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	headers map[string]string
}

// WithHeader adds a header that is sent live and persisted with the
// mutation if it is queued. Authorization is never persisted.
func WithHeader(key, value string) WriteOption {
	return func(o *writeOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// Get reads path, falling back to the cache on connectivity failure.
func (a *API) Get(ctx context.Context, path string, params map[string]any) (*offline.Result, error) {
	return a.Cache.Read(ctx, path, params)
}

// Post creates a resource.
func (a *API) Post(ctx context.Context, path string, body any, opts ...WriteOption) (*offline.Result, error) {
	return a.write(ctx, offline.MethodPost, path, body, opts)
}

// Put replaces a resource.
func (a *API) Put(ctx context.Context, path string, body any, opts ...WriteOption) (*offline.Result, error) {
	return a.write(ctx, offline.MethodPut, path, body, opts)
}

// Patch updates part of a resource.
func (a *API) Patch(ctx context.Context, path string, body any, opts ...WriteOption) (*offline.Result, error) {
	return a.write(ctx, offline.MethodPatch, path, body, opts)
}

// Delete removes a resource.
func (a *API) Delete(ctx context.Context, path string, opts ...WriteOption) (*offline.Result, error) {
	return a.write(ctx, offline.MethodDelete, path, nil, opts)
}

// Write dispatches by method name. Used by the CLI.
func (a *API) Write(ctx context.Context, method offline.Method, path string, body any, opts ...WriteOption) (*offline.Result, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrUnsupportedMethod, method)
	}
	return a.write(ctx, method, path, body, opts)
}

func (a *API) write(ctx context.Context, method offline.Method, path string, body any, opts []WriteOption) (*offline.Result, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	online := a.Connectivity.IsOnline()
	if online {
		resp, err := a.send(ctx, method, path, raw, o.headers)
		if err == nil {
			return &offline.Result{Success: true, Data: resp.Body}, nil
		}
		if !domainErrors.Classify(err, !a.Connectivity.IsOnline()).IsConnectivityError {
			return nil, err
		}
		a.Logger.InfoContext(ctx, "write failed for lack of connectivity, queueing",
			"method", string(method), "url", path, "error", err)
	}

	if _, err := a.Queue.Enqueue(ctx, method, path, raw, o.headers); err != nil {
		return nil, err
	}
	return &offline.Result{
		Success: true,
		Data:    raw,
		Message: QueuedMessage,
		Offline: true,
	}, nil
}

func (a *API) send(ctx context.Context, method offline.Method, path string, body json.RawMessage, extra map[string]string) (*ports.Response, error) {
	headers := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		headers[k] = v
	}
	if a.Session != nil {
		token, err := a.Session.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}

	base := ""
	if a.BaseURL != nil {
		base = a.BaseURL.BaseURL()
	}
	return a.Sender.Send(ctx, &ports.Request{
		Method:  string(method),
		URL:     offline.ResolveURL(base, path),
		Body:    body,
		Headers: headers,
	})
}

// PendingSyncCount returns the persisted queue length.
func (a *API) PendingSyncCount(ctx context.Context) int {
	return a.Queue.PendingCount(ctx)
}

// ProcessQueue drains the queue now. While offline, or while another drain
// runs, it does nothing and returns ErrOffline or ErrDrainInProgress.
func (a *API) ProcessQueue(ctx context.Context) (*syncengine.RunSummary, error) {
	return a.Monitor.Trigger(ctx)
}

// OnSyncChange subscribes to sync lifecycle events.
func (a *API) OnSyncChange(h events.Handler) (unsubscribe func()) {
	return a.Bus.Subscribe(h)
}

// SetupAutoSync installs the connectivity listener and timers. Safe to call
// more than once.
func (a *API) SetupAutoSync(ctx context.Context) {
	a.Monitor.Setup(ctx)
}

// Login stores a fresh session.
func (a *API) Login(ctx context.Context, tokens offline.Tokens, user json.RawMessage) (*offline.SessionRecord, error) {
	return a.Session.Save(ctx, tokens, user)
}

// Logout clears the response cache and the session. Queued mutations are
// kept so offline edits survive a sign-out.
func (a *API) Logout(ctx context.Context) error {
	if err := a.Store.Clear(ctx, ports.TableCache); err != nil && !domainErrors.Is(err, domainErrors.ErrStoreUnavailable) {
		return fmt.Errorf("clearing cache: %w", err)
	}
	if err := a.Session.Clear(ctx); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "logged out", "pending_mutations", a.Queue.PendingCount(ctx))
	return nil
}

// Close stops automatic sync and waits for background cache writes.
func (a *API) Close() {
	a.Monitor.Stop()
	a.Cache.Wait()
}

func encodeBody(body any) (json.RawMessage, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(b) > 0 && !json.Valid(b) {
			return nil, domainErrors.NewError(domainErrors.CodeValidation, "request body is not valid JSON", nil)
		}
		return b, nil
	case []byte:
		return encodeBody(json.RawMessage(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return raw, nil
	}
}
