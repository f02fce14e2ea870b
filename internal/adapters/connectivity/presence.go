package connectivity

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

// Presence holds a websocket open to the API's realtime endpoint and reports
// online while it is connected. Dropped connections are redialed with
// capped exponential backoff.
type Presence struct {
	url         string
	status      *Status
	credentials ports.CredentialPort
	logger      *logging.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
	attempt   int
}

// PresenceOption configures a Presence.
type PresenceOption func(*Presence)

// WithPresenceCredentials sends the current bearer token when dialing.
func WithPresenceCredentials(c ports.CredentialPort) PresenceOption {
	return func(p *Presence) {
		p.credentials = c
	}
}

// WithPresenceBackoff sets the redial backoff bounds.
func WithPresenceBackoff(base, max time.Duration) PresenceOption {
	return func(p *Presence) {
		if base > 0 {
			p.baseDelay = base
		}
		if max > 0 {
			p.maxDelay = max
		}
	}
}

// WithPresenceLogger sets the logger.
func WithPresenceLogger(l *logging.Logger) PresenceOption {
	return func(p *Presence) {
		p.logger = l
	}
}

// NewPresence creates a presence source for rawURL. http(s) schemes are
// rewritten to ws(s).
func NewPresence(rawURL string, status *Status, opts ...PresenceOption) *Presence {
	u := strings.Replace(rawURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)

	p := &Presence{
		url:       u,
		status:    status,
		logger:    logging.Default(),
		baseDelay: time.Second,
		maxDelay:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run keeps the connection open until ctx is done.
func (p *Presence) Run(ctx context.Context) error {
	if p.url == "" {
		return fmt.Errorf("realtime url is empty")
	}

	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if p.status.SetOnline(false) {
			p.logger.Info("connectivity changed", "online", false, "source", "presence")
		}

		delay := p.nextDelay()
		p.logger.Debug("realtime connection lost", "error", errString(err), "retry_in_ms", delay.Milliseconds())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session dials once and blocks reading until the connection drops.
func (p *Presence) session(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if p.credentials != nil {
		token, err := p.credentials.AccessToken(ctx)
		if err == nil && token != "" {
			opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
		}
	}

	conn, _, err := websocket.Dial(ctx, p.url, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	p.attempt = 0
	if p.status.SetOnline(true) {
		p.logger.Info("connectivity changed", "online", true, "source", "presence")
	}

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
	}
}

func (p *Presence) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(p.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(p.baseDelay)*math.Pow(2, float64(p.attempt))+float64(jitter),
		float64(p.maxDelay),
	))
	p.attempt++
	return delay
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
