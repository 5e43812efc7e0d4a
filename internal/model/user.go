package model

import "time"

// Role names recognized by the route permission matrix. Roles are plain
// strings on the user record; there is no separate roles table.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// User represents an account that can sign in through the session flow.
// Passwords are stored as bcrypt hashes. Deletion is soft: a user with
// DeletedAt set can never authenticate, even with a valid token.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Avatar       string     `json:"avatar,omitempty" db:"avatar"`
	Role         string     `json:"role" db:"role"`
	DeletedAt    *time.Time `json:"-" db:"deleted_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
