package hosting

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Tier classifies a session's owner and drives its expiry policy.
type Tier int

const (
	// TierRegular sessions expire 15 minutes after creation (extendable)
	// and are additionally cut off after 15 minutes of inactivity.
	TierRegular Tier = iota
	// TierAdmin sessions last 24 hours with no inactivity cutoff.
	TierAdmin
	// TierOwner sessions are never auto-terminated.
	TierOwner
)

func (t Tier) String() string {
	switch t {
	case TierOwner:
		return "owner"
	case TierAdmin:
		return "admin"
	case TierRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// session is a live web-panel grant. Mutable fields are guarded by the
// manager's mutex.
type session struct {
	ownerID      int64
	sessionID    string
	username     string
	password     string
	tier         Tier
	createdAt    time.Time
	expiresAt    time.Time
	lastActivity time.Time
}

// Grant is the caller-facing view of a freshly created session.
type Grant struct {
	OwnerID   int64     `json:"owner_id"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Tier      string    `json:"tier"`
	PanelURL  string    `json:"panel_url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status reports a session's current state.
type Status struct {
	Active           bool      `json:"active"`
	Tier             string    `json:"tier,omitempty"`
	PanelURL         string    `json:"panel_url,omitempty"`
	Username         string    `json:"username,omitempty"`
	Password         string    `json:"password,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
	RemainingSeconds int64     `json:"remaining_seconds,omitempty"`
}

// randomToken returns a URL-safe random string from n bytes of entropy.
func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails if the OS entropy source is broken.
		panic("hosting: reading random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
