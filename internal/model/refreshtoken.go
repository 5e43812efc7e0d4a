package model

import "time"

// RefreshToken is an opaque long-lived credential persisted server-side and
// used solely to mint new access tokens. It is never mutated after creation
// except for the Revoked flag, which flips to true on logout. A revoked or
// expired token can never mint a new access token.
type RefreshToken struct {
	ID        int64     `json:"id" db:"id"`
	Token     string    `json:"-" db:"token"` // 128 hex chars, never expose in listings
	UserID    int64     `json:"user_id" db:"user_id"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Revoked   bool      `json:"revoked" db:"revoked"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
