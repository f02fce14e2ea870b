// Package offline defines the domain model of the offline-first sync core:
// queued mutations, cached responses, the device session record and the
// uniform result shape returned to callers.
package offline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	domainErrors "github.com/jbctechsolutions/schoolsync/internal/domain/errors"
)

// Method is a write intent HTTP method. Reads are never queued.
type Method string

const (
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// ParseMethod normalizes s and reports whether it is a queueable write method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", domainErrors.ErrUnsupportedMethod, s)
	}
	return m, nil
}

// Valid reports whether m is one of the write methods.
func (m Method) Valid() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// MutationStatus is the replay state of a queued mutation.
type MutationStatus string

const (
	StatusPending         MutationStatus = "pending"
	StatusSyncing         MutationStatus = "syncing"
	StatusFailedTransient MutationStatus = "failed-transient"
)

// IsRetryable reports whether an item in this state is eligible for the next
// drain. failed-transient behaves exactly like pending.
func (s MutationStatus) IsRetryable() bool {
	return s == StatusPending || s == StatusFailedTransient
}

// QueuedMutation is a persisted write intent awaiting replay.
// The authorization header is never stored; it is resolved at replay time.
type QueuedMutation struct {
	ID            int64             `json:"id"`
	Method        Method            `json:"method" validate:"required,oneof=POST PUT PATCH DELETE"`
	URL           string            `json:"url" validate:"required"`
	Body          json.RawMessage   `json:"body,omitempty"`
	ExtraHeaders  map[string]string `json:"extraHeaders,omitempty"`
	Status        MutationStatus    `json:"status" validate:"required,oneof=pending syncing failed-transient"`
	Retries       int               `json:"retries" validate:"gte=0"`
	CreatedAt     time.Time         `json:"createdAt" validate:"required"`
	NextAttemptAt time.Time         `json:"nextAttemptAt,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NewQueuedMutation builds a pending mutation stamped with now. The returned
// mutation has no ID; the store assigns one on insert.
func NewQueuedMutation(method Method, url string, body json.RawMessage, extraHeaders map[string]string, now time.Time) (*QueuedMutation, error) {
	m := &QueuedMutation{
		Method:       method,
		URL:          url,
		Body:         body,
		ExtraHeaders: StripAuthorization(extraHeaders),
		Status:       StatusPending,
		CreatedAt:    now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the mutation's structural invariants.
func (m *QueuedMutation) Validate() error {
	if err := validatorInstance().Struct(m); err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrInvalidMutation, err)
	}
	return nil
}

// StripAuthorization returns a copy of headers without any Authorization
// entry. Credentials are resolved fresh at replay.
func StripAuthorization(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
