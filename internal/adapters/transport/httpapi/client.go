// Package httpapi is the HTTP transport for the school API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jbctechsolutions/schoolsync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
	"github.com/jbctechsolutions/schoolsync/internal/infrastructure/logging"
)

const (
	// DefaultTimeout bounds a single request when the caller's context has no deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies the client to the API.
	DefaultUserAgent = "schoolsync/1.0"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// Client is an HTTP client for the school API.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *logging.Logger
	propagator propagation.TextMapPropagator
}

// Ensure Client implements SenderPort.
var _ ports.SenderPort = (*Client)(nil)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger for request tracing
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPropagator overrides the global OpenTelemetry propagator
func WithPropagator(p propagation.TextMapPropagator) ClientOption {
	return func(c *Client) {
		c.propagator = p
	}
}

// NewClient creates a new API client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		userAgent: DefaultUserAgent,
		logger:    logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send executes req. A 2xx reply is returned as a Response; anything else is
// a *errors.RequestError carrying either the status and body, or the
// transport failure with Connectivity set.
func (c *Client) Send(ctx context.Context, r *ports.Request) (*ports.Response, error) {
	target := r.URL
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	c.textMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	logging.LogRequest(ctx, c.logger, r.Method, r.URL)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domainErrors.RequestError{
			Method:       r.Method,
			URL:          r.URL,
			Connectivity: !errors.Is(err, context.Canceled),
			Cause:        err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domainErrors.RequestError{
			Method:     r.Method,
			URL:        r.URL,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("reading response: %w", err),
		}
	}

	logging.LogResponse(ctx, c.logger, r.Method, r.URL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domainErrors.RequestError{
			Method:     r.Method,
			URL:        r.URL,
			StatusCode: resp.StatusCode,
			Body:       data,
		}
	}

	out := &ports.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if json.Valid(data) {
			out.Body = json.RawMessage(data)
		} else {
			// Non-JSON success bodies are kept as a JSON string.
			quoted, _ := json.Marshal(string(data))
			out.Body = quoted
		}
	}
	return out, nil
}

func (c *Client) textMapPropagator() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}
