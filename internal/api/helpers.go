package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/enslite/enslite/internal/store"
)

var validate = validator.New()

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id"`
}

// SendJSON sends a JSON response
func SendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// SendError sends a standardized error response
func SendError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	requestID, _ := r.Context().Value(RequestIDKey).(string)

	SendJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// ParseIDParam extracts and validates a numeric id from URL params
func ParseIDParam(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	idStr := chi.URLParam(r, param)
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		SendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid record id", nil)
		return 0, false
	}
	return id, true
}

// DecodeJSON decodes and validates a request body. Validation runs the
// struct's `validate` tags; a tag failure is answered as a 400.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var input T
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		SendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", err.Error())
		return input, false
	}
	if err := validate.Struct(&input); err != nil {
		SendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Validation failed", err.Error())
		return input, false
	}
	return input, true
}

// HandleStoreError sends the appropriate error response for a store error
// and reports whether err was non-nil.
func HandleStoreError(w http.ResponseWriter, r *http.Request, err error, entityName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) {
		SendError(w, r, http.StatusNotFound, "NOT_FOUND", entityName+" not found", nil)
	} else {
		SendError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Storage error", nil)
	}
	return true
}
