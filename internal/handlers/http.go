package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/abrezinsky/eventxp/internal/errors"
)

// Error codes for standardized API error responses
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodePartialFailure = "PARTIAL_FAILURE"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// APIError represents an error with an HTTP status code and error code
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error with custom message and code
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// BadRequest creates a 400 error with custom message
func BadRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: message}
}

// Unauthorized creates a 401 error with custom message
func Unauthorized(message string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: message}
}

// Forbidden creates a 403 error with custom message
func Forbidden(message string) *APIError {
	return &APIError{Status: http.StatusForbidden, Code: ErrCodeForbidden, Message: message}
}

// NotFound creates a 404 error with custom message
func NotFound(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: message}
}

// Conflict creates a 409 error with custom message
func Conflict(message string) *APIError {
	return &APIError{Status: http.StatusConflict, Code: ErrCodeConflict, Message: message}
}

// InternalError creates a 500 error. The cause is never exposed to the client.
func InternalError() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: ErrCodeInternalServer, Message: "Internal server error"}
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondOK writes a 200 OK JSON response
func respondOK(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, data)
}

// respondCreated writes a 201 Created JSON response
func respondCreated(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusCreated, data)
}

// respondError writes an error response, logging anything that maps to a 500
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*APIError)
	if !ok {
		apiErr = ToAPIError(err)
	}
	switch apiErr.Status {
	case http.StatusInternalServerError:
		h.Log.Error("Internal error", "method", r.Method, "path", r.URL.Path, "error", err)
	case http.StatusBadGateway:
		h.Log.Warn("Partial failure", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondJSON(w, apiErr.Status, apiErr)
}

// decodeJSON decodes JSON from request body into the target
func decodeJSON(r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if err == io.EOF {
			return BadRequest("Request body is empty")
		}
		return BadRequest("Invalid JSON: " + err.Error())
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted
func decodeOptionalJSON(r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && err != io.EOF {
		return BadRequest("Invalid JSON: " + err.Error())
	}
	return nil
}

// parseIntQuery extracts an optional integer query parameter
func parseIntQuery(r *http.Request, name string, fallback int) (int, error) {
	param := r.URL.Query().Get(name)
	if param == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(param)
	if err != nil {
		return 0, BadRequest("Invalid " + name + " parameter")
	}
	return v, nil
}

// eventID extracts the event id URL parameter
func eventID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// ToAPIError converts service errors to appropriate API errors
func ToAPIError(err error) *APIError {
	var appErr *errors.Error
	if !stderrors.As(err, &appErr) {
		return InternalError()
	}

	switch appErr.Kind {
	case errors.ErrNotFound:
		return NotFound(appErr.Message)
	case errors.ErrValidation, errors.ErrInvalidInput:
		return &APIError{Status: http.StatusBadRequest, Code: ErrCodeValidation, Message: appErr.Message}
	case errors.ErrPermission:
		return Forbidden(appErr.Message)
	case errors.ErrConflict:
		return Conflict(appErr.Message)
	case errors.ErrPartialFailure:
		return &APIError{Status: http.StatusBadGateway, Code: ErrCodePartialFailure, Message: appErr.Message}
	default:
		return InternalError()
	}
}
