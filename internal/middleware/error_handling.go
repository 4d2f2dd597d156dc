package middleware

import (
	"net/http"

	"github.com/maltehedderich/rate-governor/internal/logger"
)

// ErrorResponse is the JSON body of every error the service writes
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteJSONError writes a JSON error response. Messages are meant for
// clients; never pass internal error text here.
func WriteJSONError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	correlationID := logger.GetCorrelationID(r.Context())

	resp := ErrorResponse{
		Error:         errorCode,
		Message:       message,
		CorrelationID: correlationID,
	}

	if err := WriteJSON(w, statusCode, resp); err != nil {
		logger.Get().WithComponent("middleware.error_handling").Error("failed to encode error response", logger.Fields{
			"error":          err.Error(),
			"correlation_id": correlationID,
		})
	}
}
