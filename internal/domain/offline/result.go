package offline

import "encoding/json"

// Result is the uniform shape returned by the call wrappers.
// Offline marks a synthetic response: either a queued write echoing the
// submitted body, or a read served from the durable cache (FromCache).
// Stale is set on cache reads older than the configured max age.
type Result struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Offline   bool            `json:"_offline,omitempty"`
	FromCache bool            `json:"_fromCache,omitempty"`
	Stale     bool            `json:"_stale,omitempty"`
}

// Outcome is the three-way distinction the UI renders.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeQueued Outcome = "queued"
	OutcomeFailed Outcome = "failed"
)

// Outcome classifies a write result. A nil result means the call failed.
func (r *Result) Outcome() Outcome {
	switch {
	case r == nil || !r.Success:
		return OutcomeFailed
	case r.Offline && !r.FromCache:
		return OutcomeQueued
	default:
		return OutcomeDone
	}
}
