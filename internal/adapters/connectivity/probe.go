package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// DefaultProbeInterval is how often the health URL is polled.
const DefaultProbeInterval = 15 * time.Second

// Probe polls a health URL and reports reachability to a Status. Any HTTP
// response, whatever its status, counts as online: the server was reached.
type Probe struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	status     *Status
	logger     *logging.Logger
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithProbeInterval sets the polling interval.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeHTTPClient sets the HTTP client used for health checks.
func WithProbeHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) {
		p.httpClient = c
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *logging.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = l
	}
}

// NewProbe creates a probe for url feeding status.
func NewProbe(url string, status *Status, opts ...ProbeOption) *Probe {
	p := &Probe{
		url:        url,
		interval:   DefaultProbeInterval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		status:     status,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check performs one health request and updates the status.
func (p *Probe) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	if ctx.Err() != nil {
		// Shutting down; a cancelled request says nothing about the network.
		return p.status.IsOnline()
	}
	if p.status.SetOnline(online) {
		p.logger.Info("connectivity changed", "online", online, "source", "probe")
	}
	return online
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("invalid probe url", "url", p.url, "error", err.Error())
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.url, "error", err.Error())
		return false
	}
	resp.Body.Close()
	return true
}

// Run checks immediately and then on every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) error {
	if p.url == "" {
		return fmt.Errorf("probe url is empty")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
