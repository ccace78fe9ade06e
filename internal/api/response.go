package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:   http.StatusBadRequest,
	domain.ErrCodeNotFound:     http.StatusNotFound,
	domain.ErrCodeUnsupported:  http.StatusUnprocessableEntity,
	domain.ErrCodeUnauthorized: http.StatusUnauthorized,
	domain.ErrCodeUnavailable:  http.StatusServiceUnavailable,
}

// DomainErrorToHTTP maps domain errors, wrapped or not, to HTTP status codes.
// Anything without a known code is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		if status, ok := statusByCode[domainErr.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// DecodeJSON decodes the request body into v. On failure it writes the error
// response itself and returns false: 413 when the body cap was hit, 400 otherwise.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}

// HandleError writes the error envelope for err, with the domain code when
// err carries one.
func HandleError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
	}
	JSON(w, DomainErrorToHTTP(err), resp)
}
