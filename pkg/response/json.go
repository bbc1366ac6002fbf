package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"civic-reporting/pkg/models"
)

type APIResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Meta    any               `json:"meta,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func Success(w http.ResponseWriter, statusCode int, message string, data any) {
	JSON(w, statusCode, APIResponse{Status: "success", Message: message, Data: data})
}

// SuccessWithMeta adds pagination or source information next to data.
func SuccessWithMeta(w http.ResponseWriter, statusCode int, message string, data, meta any) {
	JSON(w, statusCode, APIResponse{Status: "success", Message: message, Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, statusCode int, message string, errDetail string) {
	JSON(w, statusCode, APIResponse{Status: "error", Message: message, Error: errDetail})
}

// Validation writes field-level and form-level messages with 422.
func Validation(w http.ResponseWriter, verr *models.ValidationError) {
	message := verr.Form
	if message == "" {
		message = "Please correct the highlighted fields."
	}
	JSON(w, http.StatusUnprocessableEntity, APIResponse{
		Status:  "error",
		Message: message,
		Fields:  verr.FieldMap(),
	})
}

// FromError maps domain errors to HTTP statuses. message is used for
// errors without a more specific mapping.
func FromError(w http.ResponseWriter, err error, message string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		Validation(w, verr)
	case errors.Is(err, models.ErrNotFound):
		Error(w, http.StatusNotFound, "Not found", "")
	case errors.Is(err, models.ErrAlreadyExists):
		Error(w, http.StatusConflict, "Already exists", "")
	case errors.Is(err, models.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, models.ErrUnavailable):
		Error(w, http.StatusServiceUnavailable, "Remote backend unavailable", "")
	default:
		Error(w, http.StatusInternalServerError, message, "")
	}
}
