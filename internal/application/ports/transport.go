package ports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// Request is a single call against the school API.
type Request struct {
	Method  string
	URL     string // absolute
	Query   url.Values
	Body    json.RawMessage
	Headers map[string]string
}

// Response is a 2xx reply from the school API.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

// SenderPort executes requests. Non-2xx replies and transport failures are
// returned as *errors.RequestError so callers can classify them.
type SenderPort interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// CredentialPort resolves the current bearer token at call time.
// An empty token means no credentials are available.
type CredentialPort interface {
	AccessToken(ctx context.Context) (string, error)
}

// BaseURLPort resolves the current API base URL. It is consulted on every
// call so relative paths persisted earlier replay against the current base.
type BaseURLPort interface {
	BaseURL() string
}

// ConnectivityPort reports the device's own view of network reachability.
type ConnectivityPort interface {
	// IsOnline returns the current state.
	IsOnline() bool

	// Subscribe registers fn for online/offline transitions and returns a
	// function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}
