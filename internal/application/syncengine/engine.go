// Package syncengine drains the mutation queue against the live API.
//
// At most one drain runs at a time, across every process sharing the store:
// an in-process flag guards the engine and a store lease guards the queue.
// Items are replayed strictly in queue
// order, one request at a time, with a freshly resolved credential and base
// URL. A 2xx removes the item, a 4xx drops it with a warning, and anything
// else leaves it queued for the next drain.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	"github.com/jbctechsolutions/schoolsync/internal/application/queue"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/tracing"
)

// DefaultReplayTimeout bounds each replayed request.
const DefaultReplayTimeout = 30 * time.Second

// drainLease is the store lease that serializes drains between processes.
const drainLease = "drain"

// RunSummary describes a completed drain.
type RunSummary struct {
	ID        string        `json:"id"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Remaining int           `json:"remaining"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Engine replays queued mutations.
type Engine struct {
	queue        *queue.Queue
	sender       ports.SenderPort
	credentials  ports.CredentialPort
	baseURL      ports.BaseURLPort
	connectivity ports.ConnectivityPort
	bus          *events.Bus
	leases       ports.LeaseStorePort
	tracer       *tracing.Tracer
	logger       *logging.Logger

	replayTimeout time.Duration
	owner         string

	draining atomic.Bool

	mu      sync.RWMutex
	lastRun *RunSummary
}

// Option configures an Engine.
type Option func(*Engine)

// WithReplayTimeout sets the per-item request timeout.
func WithReplayTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.replayTimeout = d
		}
	}
}

// WithLease makes drains take the shared drain lease in store, so drains
// in other processes using the same store are excluded too.
func WithLease(store ports.LeaseStorePort) Option {
	return func(e *Engine) {
		e.leases = store
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine. credentials may be nil when requests need no
// authorization.
func New(
	q *queue.Queue,
	sender ports.SenderPort,
	credentials ports.CredentialPort,
	baseURL ports.BaseURLPort,
	connectivity ports.ConnectivityPort,
	bus *events.Bus,
	opts ...Option,
) *Engine {
	e := &Engine{
		queue:         q,
		sender:        sender,
		credentials:   credentials,
		baseURL:       baseURL,
		connectivity:  connectivity,
		bus:           bus,
		tracer:        tracing.Default(),
		logger:        logging.Default(),
		replayTimeout: DefaultReplayTimeout,
		owner:         uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Draining reports whether a drain is in progress.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// LastRun returns the summary of the most recent completed drain.
func (e *Engine) LastRun() (RunSummary, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastRun == nil {
		return RunSummary{}, false
	}
	return *e.lastRun, true
}

// leaseTTL bounds how long a crashed drainer can keep others out. The lease
// is renewed before every item, and one item takes at most replayTimeout.
func (e *Engine) leaseTTL() time.Duration {
	return 2*e.replayTimeout + 10*time.Second
}

// lock takes the in-process flag and then the store lease. The returned
// unlock releases both.
func (e *Engine) lock(ctx context.Context) (unlock func(), err error) {
	if !e.draining.CompareAndSwap(false, true) {
		return nil, domainErrors.ErrDrainInProgress
	}
	if e.leases == nil {
		return func() { e.draining.Store(false) }, nil
	}

	now := time.Now()
	held, err := e.leases.AcquireLease(ctx, drainLease, e.owner, now, now.Add(e.leaseTTL()))
	if err != nil || !held {
		e.draining.Store(false)
		if err != nil {
			return nil, fmt.Errorf("acquire drain lease: %w", err)
		}
		return nil, domainErrors.ErrDrainInProgress
	}
	return func() {
		_ = e.leases.ReleaseLease(ctx, drainLease, e.owner)
		e.draining.Store(false)
	}, nil
}

// renew extends the lease before the next item. False means another process
// took over an expired lease and this drain must stop.
func (e *Engine) renew(ctx context.Context) bool {
	if e.leases == nil {
		return true
	}
	ok, err := e.leases.RenewLease(ctx, drainLease, e.owner, time.Now().Add(e.leaseTTL()))
	return err == nil && ok
}

// Recover resets items a crashed drain left in syncing. It does nothing
// while another process is draining, since that drain's in-flight item is
// not stale.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	unlock, err := e.lock(ctx)
	if errors.Is(err, domainErrors.ErrDrainInProgress) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer unlock()
	return e.queue.RecoverStale(ctx)
}

// Drain replays every pending mutation once. It returns ErrOffline or
// ErrDrainInProgress without doing anything when the device is offline or
// another drain, in this or another process, is running, and a nil summary
// when the queue is empty.
func (e *Engine) Drain(ctx context.Context) (*RunSummary, error) {
	if !e.connectivity.IsOnline() {
		return nil, domainErrors.ErrOffline
	}
	storeCtx := context.WithoutCancel(ctx)
	unlock, err := e.lock(storeCtx)
	if errors.Is(err, domainErrors.ErrStoreUnavailable) {
		// No durable queue to drain.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Holding the lease, anything still syncing belongs to a dead drain.
	_, _ = e.queue.RecoverStale(storeCtx)

	items := e.queue.DequeuePending(ctx)
	if len(items) == 0 {
		return nil, nil
	}

	run := &RunSummary{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	ctx = logging.WithDrainID(ctx, run.ID)
	ctx, span := e.tracer.StartDrainSpan(ctx, run.ID, len(items))

	logging.LogDrainStart(ctx, e.logger, len(items))
	e.bus.Publish(events.Event{Type: events.TypeSyncStart, DrainID: run.ID, Pending: len(items)})

	total := len(items)
	for _, m := range items {
		if ctx.Err() != nil {
			break
		}
		if !e.renew(storeCtx) {
			e.logger.WarnContext(ctx, "drain lease lost, stopping drain")
			break
		}
		e.replay(ctx, m, run, total)
	}

	// Store bookkeeping survives cancellation so counters stay accurate.
	run.Remaining = e.queue.PendingCount(context.WithoutCancel(ctx))
	run.Duration = time.Since(run.StartedAt)

	span.SetResult(run.Synced, run.Failed, run.Remaining)
	span.End()
	logging.LogDrainComplete(ctx, e.logger, run.Synced, run.Failed, run.Remaining, run.Duration)

	e.mu.Lock()
	summary := *run
	e.lastRun = &summary
	e.mu.Unlock()

	e.bus.Publish(events.Event{
		Type:      events.TypeSyncComplete,
		DrainID:   run.ID,
		Synced:    run.Synced,
		Failed:    run.Failed,
		Remaining: run.Remaining,
	})
	return &summary, nil
}

func (e *Engine) replay(ctx context.Context, m *offline.QueuedMutation, run *RunSummary, total int) {
	ctx = logging.WithMutationID(ctx, m.ID)
	storeCtx := context.WithoutCancel(ctx)

	if claimed, err := e.queue.MarkSyncing(storeCtx, m.ID); err != nil || !claimed {
		// Removed or claimed elsewhere since the snapshot was taken.
		return
	}

	req, err := e.buildRequest(ctx, m)
	if err != nil {
		e.retain(storeCtx, m, run, total, 0, err)
		return
	}

	ctx, span := e.tracer.StartReplaySpan(ctx, m.ID, req.Method, req.URL, m.Retries)
	reqCtx, cancel := context.WithTimeout(ctx, e.replayTimeout)
	resp, err := e.sender.Send(reqCtx, req)
	cancel()

	switch {
	case err == nil:
		span.End(resp.StatusCode)
		_ = e.queue.Remove(storeCtx, m.ID)
		run.Synced++
		e.bus.Publish(events.Event{
			Type:       events.TypeSyncItemDone,
			DrainID:    run.ID,
			MutationID: m.ID,
			Synced:     run.Synced,
			Failed:     run.Failed,
			Total:      total,
		})

	case ctx.Err() != nil:
		// Interrupted by shutdown, not by the server.
		span.EndWithError(err, 0, "interrupted")
		_ = e.queue.Release(storeCtx, m.ID)

	case domainErrors.IsDefinitive(err):
		var reqErr *domainErrors.RequestError
		errors.As(err, &reqErr)
		span.EndWithError(err, reqErr.StatusCode, "dropped")
		logging.LogItemDropped(ctx, e.logger, req.Method, m.URL, reqErr.StatusCode, reqErr.Body)
		_ = e.queue.Remove(storeCtx, m.ID)
		run.Failed++
		e.bus.Publish(events.Event{
			Type:       events.TypeSyncItemFailed,
			DrainID:    run.ID,
			MutationID: m.ID,
			Synced:     run.Synced,
			Failed:     run.Failed,
			Total:      total,
			Status:     reqErr.StatusCode,
			Dropped:    true,
			Error:      err.Error(),
		})

	default:
		status := domainErrors.Classify(err, false).HTTPStatus
		span.EndWithError(err, status, "retained")
		e.retain(storeCtx, m, run, total, status, err)
	}
}

func (e *Engine) retain(ctx context.Context, m *offline.QueuedMutation, run *RunSummary, total, status int, cause error) {
	_ = e.queue.MarkPending(ctx, m.ID, cause)
	run.Failed++
	logging.LogItemRetained(ctx, e.logger, string(m.Method), m.URL, m.Retries+1, cause)
	e.bus.Publish(events.Event{
		Type:       events.TypeSyncItemFailed,
		DrainID:    run.ID,
		MutationID: m.ID,
		Synced:     run.Synced,
		Failed:     run.Failed,
		Total:      total,
		Status:     status,
		Error:      cause.Error(),
	})
}

// buildRequest resolves the target and headers at replay time. The stored
// extra headers go first so the fresh credential always wins.
func (e *Engine) buildRequest(ctx context.Context, m *offline.QueuedMutation) (*ports.Request, error) {
	headers := make(map[string]string, len(m.ExtraHeaders)+1)
	for k, v := range m.ExtraHeaders {
		headers[k] = v
	}

	if e.credentials != nil {
		token, err := e.credentials.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}

	base := ""
	if e.baseURL != nil {
		base = e.baseURL.BaseURL()
	}

	return &ports.Request{
		Method:  string(m.Method),
		URL:     offline.ResolveURL(base, m.URL),
		Body:    m.Body,
		Headers: headers,
	}, nil
}
