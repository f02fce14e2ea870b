package offline

import (
	"encoding/json"
	"time"
)

// SessionKey is the primary key of the single per-device session row.
const SessionKey = "current"

// Tokens are the bearer credentials issued at login.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionRecord is the durable fallback copy of the signed-in user.
// It is consulted only when the in-memory session is empty.
type SessionRecord struct {
	UserID  string          `json:"userId"`
	User    json.RawMessage `json:"user,omitempty"`
	Tokens  Tokens          `json:"tokens"`
	SavedAt time.Time       `json:"savedAt"`
}
