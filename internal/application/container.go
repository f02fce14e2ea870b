// Package application provides application-level services and dependency injection.
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbctechsolutions/schoolsync/internal/adapters/connectivity"
	"github.com/jbctechsolutions/schoolsync/internal/adapters/store"
	"github.com/jbctechsolutions/schoolsync/internal/adapters/transport/httpapi"
	"github.com/jbctechsolutions/schoolsync/internal/application/cache"
	"github.com/jbctechsolutions/schoolsync/internal/application/client"
	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	"github.com/jbctechsolutions/schoolsync/internal/application/monitor"
	"github.com/jbctechsolutions/schoolsync/internal/application/queue"
	"github.com/jbctechsolutions/schoolsync/internal/application/session"
	"github.com/jbctechsolutions/schoolsync/internal/application/syncengine"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/config"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/tracing"
)

// Container holds all application dependencies and provides a central
// point for dependency injection. It manages the lifecycle of services
// and ensures proper initialization order.
type Container struct {
	// Configuration
	config  *config.Config
	verbose bool // Override log level to debug when true

	// Durable store
	store    *store.SafeStore
	storeErr error

	// Connectivity and transport
	baseURL  *config.BaseURLResolver
	status   *connectivity.Status
	probe    *connectivity.Probe
	presence *connectivity.Presence
	sender   *httpapi.Client

	// Application services
	bus      *events.Bus
	sessions *session.Manager
	queue    *queue.Queue
	engine   *syncengine.Engine
	monitor  *monitor.Monitor
	cache    *cache.Layer
	api      *client.API

	// Observability
	logger *logging.Logger
	tracer *tracing.Tracer
}

// NewContainer creates a new dependency injection container with all services
// initialized based on the provided configuration.
func NewContainer(cfg *config.Config, verbose bool) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
	}

	if err := c.initObservability(); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initStore(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	c.initConnectivity()

	if err := c.initServices(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return c, nil
}

// initObservability initializes logging and tracing.
func (c *Container) initObservability() error {
	level := logging.ParseLevel(c.config.Logging.Level)
	if c.verbose {
		level = logging.LevelDebug
	}

	logFormat := logging.FormatText
	if c.config.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = logFormat
	c.logger = logging.New(logCfg)

	if !c.config.Observability.Tracing.Enabled {
		c.tracer = tracing.Default()
		return nil
	}

	tracingCfg := tracing.Config{
		Enabled:      true,
		ExporterType: tracing.ExporterType(c.config.Observability.Tracing.ExporterType),
		OTLPEndpoint: c.config.Observability.Tracing.OTLPEndpoint,
		ServiceName:  c.config.Observability.Tracing.ServiceName,
		SampleRate:   c.config.Observability.Tracing.SampleRate,
	}
	tracer, err := tracing.New(context.Background(), tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	c.tracer = tracer
	return nil
}

// initStore opens the durable store. An engine that cannot be opened leaves
// the container running without persistence; only an unknown driver fails.
func (c *Container) initStore() error {
	s, err := store.Open(c.config.Storage.Driver, c.config.StoragePath(), c.logger)
	if s == nil {
		return err
	}
	c.store = s
	c.storeErr = err
	if err != nil {
		c.logger.Warn("continuing without persistence", "error", err)
	}
	return nil
}

// initConnectivity creates the connectivity state and its sources. The
// device starts online; the probe or presence channel corrects it.
func (c *Container) initConnectivity() {
	c.baseURL = config.NewBaseURLResolver(c.config.API.BaseURL)
	c.status = connectivity.NewStatus(true)
	c.bus = events.NewBus(c.logger)

	c.sender = httpapi.NewClient(
		httpapi.WithTimeout(c.config.API.Timeout),
		httpapi.WithUserAgent(c.config.API.UserAgent),
		httpapi.WithLogger(c.logger),
	)

	if target := c.config.ProbeTarget(); target != "" {
		c.probe = connectivity.NewProbe(target, c.status,
			connectivity.WithProbeInterval(c.config.Connectivity.ProbeInterval),
			connectivity.WithProbeLogger(c.logger),
		)
	}
}

// initServices initializes the queue, sync engine, scheduler, cache layer
// and the API facade.
func (c *Container) initServices() error {
	ctx := context.Background()

	sessionOpts := []session.Option{session.WithLogger(c.logger)}
	if c.config.Storage.EncryptSession {
		enc, err := crypto.NewEncryptor(c.config.DataDir())
		if err != nil {
			return fmt.Errorf("failed to create session encryptor: %w", err)
		}
		sessionOpts = append(sessionOpts, session.WithEncryptor(enc))
	}
	c.sessions = session.NewManager(c.store, sessionOpts...)

	backoff := c.config.Sync.Backoff
	c.queue = queue.New(c.store,
		queue.WithBackoff(queue.Backoff{Enabled: backoff.Enabled, Base: backoff.Base, Max: backoff.Max}),
		queue.WithLogger(c.logger),
	)

	c.engine = syncengine.New(c.queue, c.sender, c.sessions, c.baseURL, c.status, c.bus,
		syncengine.WithLease(c.store),
		syncengine.WithReplayTimeout(c.config.Sync.ReplayTimeout),
		syncengine.WithTracer(c.tracer),
		syncengine.WithLogger(c.logger),
	)
	if n, err := c.engine.Recover(ctx); err == nil && n > 0 {
		c.logger.Info("recovered interrupted mutations", "count", n)
	}

	c.monitor = monitor.New(c.engine, c.queue, c.status, c.bus,
		monitor.WithSettleDelay(c.config.Sync.SettleDelay),
		monitor.WithHeartbeat(c.config.Sync.HeartbeatInterval),
		monitor.WithStartupGrace(c.config.Sync.StartupGrace),
		monitor.WithLogger(c.logger),
	)

	c.cache = cache.New(c.sender, c.store, c.baseURL, c.status,
		cache.WithMaxAge(c.config.Cache.MaxAge),
		cache.WithRegisteredPaths(c.config.Cache.RegisteredPaths...),
		cache.WithCredentials(c.sessions),
		cache.WithTracer(c.tracer),
		cache.WithLogger(c.logger),
	)

	if url := c.config.Connectivity.RealtimeURL; url != "" {
		c.presence = connectivity.NewPresence(url, c.status,
			connectivity.WithPresenceCredentials(c.sessions),
			connectivity.WithPresenceLogger(c.logger),
		)
	}

	c.api = client.New(client.Deps{
		Store:        c.store,
		Sender:       c.sender,
		BaseURL:      c.baseURL,
		Connectivity: c.status,
		Session:      c.sessions,
		Cache:        c.cache,
		Queue:        c.queue,
		Engine:       c.engine,
		Monitor:      c.monitor,
		Bus:          c.bus,
		Logger:       c.logger,
	})
	return nil
}

// ApplyConfig applies the settings that may change while running: the API
// base URL and, unless verbose logging was requested, the log level. Other
// changes need a restart.
func (c *Container) ApplyConfig(cfg *config.Config) {
	if cfg.API.BaseURL != c.baseURL.BaseURL() {
		c.logger.Info("api base url changed", "base_url", cfg.API.BaseURL)
	}
	c.baseURL.Set(cfg.API.BaseURL)
	if !c.verbose {
		c.logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	}
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	var errs []error

	if c.api != nil {
		c.api.Close()
	}

	if c.tracer != nil {
		if err := c.tracer.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Store returns the durable store.
func (c *Container) Store() *store.SafeStore {
	return c.store
}

// StoreError returns why the store is unavailable, or nil.
func (c *Container) StoreError() error {
	return c.storeErr
}

// API returns the offline-first client facade.
func (c *Container) API() *client.API {
	return c.api
}

// Queue returns the mutation queue.
func (c *Container) Queue() *queue.Queue {
	return c.queue
}

// Engine returns the sync engine.
func (c *Container) Engine() *syncengine.Engine {
	return c.engine
}

// Monitor returns the drain scheduler.
func (c *Container) Monitor() *monitor.Monitor {
	return c.monitor
}

// SessionManager returns the session manager.
func (c *Container) SessionManager() *session.Manager {
	return c.sessions
}

// Connectivity returns the shared online/offline state.
func (c *Container) Connectivity() *connectivity.Status {
	return c.status
}

// Probe returns the health probe, or nil when no probe target is known.
func (c *Container) Probe() *connectivity.Probe {
	return c.probe
}

// Presence returns the realtime presence source, or nil when not configured.
func (c *Container) Presence() *connectivity.Presence {
	return c.presence
}

// Bus returns the sync event bus.
func (c *Container) Bus() *events.Bus {
	return c.bus
}

// BaseURL returns the hot-reloadable base URL resolver.
func (c *Container) BaseURL() *config.BaseURLResolver {
	return c.baseURL
}

// Logger returns the application logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the application tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}
