package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/authgate/authgate/internal/model"
)

// writeEnvelope writes the standard error envelope with the status code
// implied by the error type.
func writeEnvelope(w http.ResponseWriter, errType, message string, details map[string]interface{}) {
	status := model.StatusForType(errType)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Success: false,
		Error: model.ErrorDetail{
			Type:      errType,
			Message:   message,
			Code:      status,
			Details:   details,
			Timestamp: time.Now().UTC(),
		},
	})
}
