package store

import "errors"

// ErrNotFound is returned when a requested record does not exist. Callers
// branch on it with errors.Is; it is never wrapped in a panic.
var ErrNotFound = errors.New("not found")
