// Package monitor decides when the sync engine should drain the queue.
//
// Drains are requested on a transition to online (after a settle delay), on
// a periodic heartbeat while items are pending, once after startup, and on
// demand through Trigger. Setup installs the listeners and timers exactly
// once per Monitor.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	"github.com/jbctechsolutions/schoolsync/internal/application/syncengine"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// Default timings.
const (
	DefaultSettleDelay       = 2 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultStartupGrace      = 3 * time.Second
)

// Drainer runs a drain. Implemented by *syncengine.Engine.
type Drainer interface {
	Drain(ctx context.Context) (*syncengine.RunSummary, error)
	Draining() bool
}

// PendingCounter reports the persisted queue length. Implemented by
// *queue.Queue.
type PendingCounter interface {
	PendingCount(ctx context.Context) int
}

// Monitor schedules drains.
type Monitor struct {
	engine       Drainer
	pending      PendingCounter
	connectivity ports.ConnectivityPort
	bus          *events.Bus
	logger       *logging.Logger

	settleDelay  time.Duration
	heartbeat    time.Duration
	startupGrace time.Duration

	setupOnce sync.Once
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	unsub     func()
	stopped   bool
	wg        sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSettleDelay sets the wait between an online transition and its drain.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.settleDelay = d
		}
	}
}

// WithHeartbeat sets the heartbeat interval. Zero disables the heartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.heartbeat = d
		}
	}
}

// WithStartupGrace sets the delay before the startup drain.
func WithStartupGrace(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.startupGrace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// New creates a monitor. Nothing runs until Setup.
func New(engine Drainer, pending PendingCounter, connectivity ports.ConnectivityPort, bus *events.Bus, opts ...Option) *Monitor {
	m := &Monitor{
		engine:       engine,
		pending:      pending,
		connectivity: connectivity,
		bus:          bus,
		logger:       logging.Default(),
		settleDelay:  DefaultSettleDelay,
		heartbeat:    DefaultHeartbeatInterval,
		startupGrace: DefaultStartupGrace,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Setup subscribes to connectivity changes, starts the heartbeat and
// schedules the startup drain. Calls after the first are no-ops.
func (m *Monitor) Setup(ctx context.Context) {
	m.setupOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}

		m.ctx, m.cancel = context.WithCancel(ctx)
		m.unsub = m.connectivity.Subscribe(m.onConnectivity)

		if m.heartbeat > 0 {
			m.wg.Add(1)
			go m.heartbeatLoop()
		}
		if m.connectivity.IsOnline() {
			m.wg.Add(1)
			go m.after(m.startupGrace, "startup")
		}
		m.logger.Debug("sync monitor started",
			"settle_delay", m.settleDelay,
			"heartbeat", m.heartbeat,
			"startup_grace", m.startupGrace,
		)
	})
}

// Stop removes the connectivity subscription, stops the timers and waits
// for any drain the monitor started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.unsub != nil {
		m.unsub()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// Trigger runs a drain now through the same guard as automatic triggers.
// While offline or while another drain is running it does nothing and
// returns ErrOffline or ErrDrainInProgress.
func (m *Monitor) Trigger(ctx context.Context) (*syncengine.RunSummary, error) {
	return m.engine.Drain(ctx)
}

func (m *Monitor) onConnectivity(online bool) {
	if !online {
		m.bus.Publish(events.Event{Type: events.TypeOffline})
		return
	}
	m.bus.Publish(events.Event{Type: events.TypeOnline})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.ctx == nil {
		return
	}
	m.wg.Add(1)
	go m.after(m.settleDelay, "online")
}

func (m *Monitor) after(delay time.Duration, reason string) {
	defer m.wg.Done()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}
	}
	m.drain(reason)
}

func (m *Monitor) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connectivity.IsOnline() || m.engine.Draining() {
				continue
			}
			if m.pending.PendingCount(m.ctx) == 0 {
				continue
			}
			m.drain("heartbeat")
		}
	}
}

func (m *Monitor) drain(reason string) {
	if m.ctx.Err() != nil {
		return
	}
	_, err := m.engine.Drain(m.ctx)
	switch {
	case err == nil:
	case errors.Is(err, domainErrors.ErrOffline), errors.Is(err, domainErrors.ErrDrainInProgress):
		m.logger.Debug("drain skipped", "reason", reason, "error", err)
	default:
		m.logger.Warn("drain failed", "reason", reason, "error", err)
	}
}
