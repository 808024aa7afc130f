package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// errorBody is the uniform 4xx/5xx response shape.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders a typed error with the taxonomy status mapping. Untyped
// errors become a safe 500; their details are the caller's to log.
func writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := statusForKind(kind)

	// Oversize uploads carry their own status.
	if models.CodeOf(err) == "UPLD_002" {
		status = http.StatusRequestEntityTooLarge
	}

	message := "internal server error"
	var typed *models.Error
	errors.As(err, &typed)
	if typed != nil && kind != models.KindInternal {
		message = typed.Message
	}

	body := errorBody{
		Error:     string(kind),
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if typed != nil {
		body.ErrorCode = typed.Code
	}
	writeJSON(w, status, body)
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidInput, models.KindInvalidState:
		return http.StatusBadRequest
	case models.KindAuthentication:
		return http.StatusUnauthorized
	case models.KindAuthorization:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
