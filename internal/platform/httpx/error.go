package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// FieldError is a single server-side validation failure.
type FieldError struct {
	Field   string
	Message string
}

// APIError is the decoded error envelope returned by the storefront backend.
type APIError struct {
	Status           int
	Code             string
	Message          string
	Path             string
	ValidationErrors []FieldError
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("api: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// ServerMessage returns the human readable message the backend sent, if any.
func (e *APIError) ServerMessage() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// AsAPIError extracts an APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not an APIError.
func StatusOf(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Status
	}
	return 0
}

type errorEnvelope struct {
	Success    *bool  `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Path       string `json:"path"`
	Error      *struct {
		Code             string `json:"code"`
		ValidationErrors []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"validationErrors"`
	} `json:"error"`
}

// DecodeError reads an error response body into an APIError. Bodies that are not
// the JSON envelope become the message verbatim, truncated.
func DecodeError(status int, body io.Reader) *APIError {
	apiErr := &APIError{Status: status}
	if body == nil {
		apiErr.Message = http.StatusText(status)
		return apiErr
	}
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		apiErr.Message = sanitize(string(raw), 512)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}
	apiErr.Message = sanitize(env.Message, 512)
	apiErr.Path = sanitize(env.Path, 256)
	if env.Error != nil {
		apiErr.Code = sanitize(env.Error.Code, 80)
		for _, fe := range env.Error.ValidationErrors {
			apiErr.ValidationErrors = append(apiErr.ValidationErrors, FieldError{
				Field:   sanitize(fe.Field, 80),
				Message: sanitize(fe.Message, 256),
			})
		}
	}
	return apiErr
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
