package model

import "time"

// Error types returned in the standard envelope. Each maps to exactly one
// HTTP status code; clients dispatch on the type string, not the message.
const (
	ErrTypeAuthentication = "AUTHENTICATION_ERROR" // 401
	ErrTypeAuthorization  = "AUTHORIZATION_ERROR"  // 403
	ErrTypeRateLimit      = "RATE_LIMIT_ERROR"     // 429
	ErrTypeValidation     = "VALIDATION_ERROR"     // 400
	ErrTypeNotFound       = "NOT_FOUND_ERROR"      // 404
	ErrTypeConflict       = "CONFLICT_ERROR"       // 409
	ErrTypeDatabase       = "DATABASE_ERROR"       // 500
	ErrTypeInternal       = "INTERNAL_SERVER_ERROR"
)

// ErrorResponse is the standard envelope for every rejected API request.
type ErrorResponse struct {
	Success bool        `json:"success"` // always false
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail carries the structured error information returned by the API.
type ErrorDetail struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Code      int                    `json:"code"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// StatusForType maps an error type to its HTTP status code. Unknown types
// fall through to 500.
func StatusForType(errType string) int {
	switch errType {
	case ErrTypeAuthentication:
		return 401
	case ErrTypeAuthorization:
		return 403
	case ErrTypeRateLimit:
		return 429
	case ErrTypeValidation:
		return 400
	case ErrTypeNotFound:
		return 404
	case ErrTypeConflict:
		return 409
	default:
		return 500
	}
}
