package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// RequestError describes a failed call against the school API.
// StatusCode is zero when no response reached the client.
type RequestError struct {
	Method       string
	URL          string
	StatusCode   int
	Body         []byte
	Connectivity bool
	Cause        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: server responded %d", e.Method, e.URL, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Cause)
	default:
		return fmt.Sprintf("%s %s: request failed", e.Method, e.URL)
	}
}

// Unwrap returns the transport-level cause.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Classification is the structured view of a failure that callers branch on.
type Classification struct {
	IsConnectivityError bool
	HTTPStatus          int // 0 when no response was received
}

// networkErrorMarkers are runtime messages that mean the request never left
// the machine or never reached a server.
var networkErrorMarkers = []string{
	"network error",
	"network is unreachable",
	"no such host",
	"connection refused",
	"connection reset",
	"no route to host",
}

// Classify inspects err and reports whether it is a connectivity failure and
// which HTTP status, if any, the server returned. offline is the device's own
// report of its connectivity state at call time.
func Classify(err error, offline bool) Classification {
	if err == nil {
		return Classification{}
	}

	var c Classification
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		c.HTTPStatus = reqErr.StatusCode
		if reqErr.StatusCode == 0 && reqErr.Connectivity {
			c.IsConnectivityError = true
		}
	}

	if offline || errors.Is(err, ErrOffline) {
		c.IsConnectivityError = true
	}

	if c.HTTPStatus == 0 && !c.IsConnectivityError {
		var opErr *net.OpError
		var dnsErr *net.DNSError
		if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
			c.IsConnectivityError = true
		} else if hasNetworkMarker(err) {
			c.IsConnectivityError = true
		}
	}

	return c
}

// IsDefinitive reports whether err is a client error the server rejected
// outright (4xx). Such requests are never retried.
func IsDefinitive(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.StatusCode >= 400 && reqErr.StatusCode < 500
}

// IsTransient reports whether a replay failure is worth retrying on the next
// drain: 5xx, timeouts, network failures and anything unclassifiable.
func IsTransient(err error) bool {
	return err != nil && !IsDefinitive(err)
}

// IsTimeout reports whether err is a deadline or client timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hasNetworkMarker(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
