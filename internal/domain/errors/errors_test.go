package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrNoCachedData", ErrNoCachedData, "no cached data available"},
		{"ErrStoreUnavailable", ErrStoreUnavailable, "durable store unavailable"},
		{"ErrInvalidMutation", ErrInvalidMutation, "invalid mutation"},
		{"ErrNotFound", ErrNotFound, "record not found"},
		{"ErrOffline", ErrOffline, "device is offline"},
		{"ErrDrainInProgress", ErrDrainInProgress, "drain already in progress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchoolsyncError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SchoolsyncError
		want string
	}{
		{
			name: "with cause",
			err:  NewError(CodeValidation, "bad mutation", ErrInvalidMutation),
			want: "[VALIDATION] bad mutation: invalid mutation",
		},
		{
			name: "without cause",
			err:  NewError(CodeConfiguration, "unknown storage driver", nil),
			want: "[CONFIG] unknown storage driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchoolsyncError_Matching(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(CodeValidation, "access token is required", ErrInvalidMutation))

	if !Is(err, ErrInvalidMutation) {
		t.Error("Is() should match the wrapped cause")
	}
	if !errors.Is(err, &SchoolsyncError{Code: CodeValidation}) {
		t.Error("errors.Is() should match by code")
	}
	if errors.Is(err, &SchoolsyncError{Code: CodeConfiguration}) {
		t.Error("errors.Is() matched a different code")
	}

	var target *SchoolsyncError
	if !errors.As(err, &target) || target.Message != "access token is required" {
		t.Errorf("errors.As() = %v", target)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name             string
		err              error
		offline          bool
		wantConnectivity bool
		wantStatus       int
	}{
		{"nil error", nil, false, false, 0},
		{"device offline", errors.New("anything"), true, true, 0},
		{"offline sentinel", fmt.Errorf("send: %w", ErrOffline), false, true, 0},
		{
			name:             "no response reached",
			err:              &RequestError{Method: "GET", URL: "/pupils", Connectivity: true, Cause: errors.New("dial tcp")},
			wantConnectivity: true,
		},
		{
			name:       "server 500",
			err:        &RequestError{Method: "GET", URL: "/pupils", StatusCode: 500},
			wantStatus: 500,
		},
		{
			name:       "client 422",
			err:        &RequestError{Method: "POST", URL: "/pupils", StatusCode: 422},
			wantStatus: 422,
		},
		{
			name:             "raw op error",
			err:              &net.OpError{Op: "dial", Err: errors.New("refused")},
			wantConnectivity: true,
		},
		{"network marker", errors.New("Network Error"), false, true, 0},
		{"unknown error", errors.New("boom"), false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, tt.offline)
			if got.IsConnectivityError != tt.wantConnectivity {
				t.Errorf("IsConnectivityError = %v, want %v", got.IsConnectivityError, tt.wantConnectivity)
			}
			if got.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", got.HTTPStatus, tt.wantStatus)
			}
		})
	}
}

func TestIsDefinitiveAndTransient(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantDefinitive bool
	}{
		{"400", &RequestError{StatusCode: 400}, true},
		{"422", &RequestError{StatusCode: 422}, true},
		{"499", &RequestError{StatusCode: 499}, true},
		{"500", &RequestError{StatusCode: 500}, false},
		{"503", &RequestError{StatusCode: 503}, false},
		{"no response", &RequestError{Connectivity: true}, false},
		{"timeout", context.DeadlineExceeded, false},
		{"wrapped 404", fmt.Errorf("replay: %w", &RequestError{StatusCode: 404}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDefinitive(tt.err); got != tt.wantDefinitive {
				t.Errorf("IsDefinitive() = %v, want %v", got, tt.wantDefinitive)
			}
			if got := IsTransient(tt.err); got == tt.wantDefinitive {
				t.Errorf("IsTransient() = %v, want %v", got, !tt.wantDefinitive)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Error("IsTimeout() should detect deadline exceeded")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("IsTimeout() should be false for plain errors")
	}
}

func TestRequestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RequestError
		want string
	}{
		{"status", &RequestError{Method: "POST", URL: "/pupils", StatusCode: 422}, "POST /pupils: server responded 422"},
		{"cause", &RequestError{Method: "GET", URL: "/fees", Cause: errors.New("dial tcp: refused")}, "GET /fees: dial tcp: refused"},
		{"bare", &RequestError{Method: "DELETE", URL: "/x"}, "DELETE /x: request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
