package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/authgate/authgate/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope. The HTTP status is implied
// by the error type; the optional details map carries extra context fields.
func writeError(w http.ResponseWriter, errType, message string, details ...map[string]interface{}) {
	var detailMap map[string]interface{}
	if len(details) > 0 {
		detailMap = details[0]
	}
	status := model.StatusForType(errType)
	writeJSON(w, status, model.ErrorResponse{
		Success: false,
		Error: model.ErrorDetail{
			Type:      errType,
			Message:   message,
			Code:      status,
			Details:   detailMap,
			Timestamp: time.Now().UTC(),
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
