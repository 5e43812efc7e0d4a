package model

import "time"

// APIKey represents a machine credential. The raw key is generated once,
// shown once, and only a bcrypt hash plus a short prefix for identification
// are persisted. Deletion is soft (DeletedAt); revoked and deleted keys stay
// in the table for auditing.
//
// Permissions and IPWhitelist are stored as JSON arrays in TEXT columns and
// decoded at the store boundary.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	KeyHash     string     `json:"-" db:"key_hash"`            // bcrypt hash, never expose
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"` // first 12 chars for identification
	Permissions []string   `json:"permissions"`
	IPWhitelist []string   `json:"ip_whitelist"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	DeletedAt   *time.Time `json:"-" db:"deleted_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
