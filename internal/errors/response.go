package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RelayError is the error type raised by every processor stage (C3-C8). It
// carries a stable reason tag so the HTTP layer can map it to a status code
// and an agent can branch on it without parsing prose.
type RelayError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Err }

// New builds a RelayError with no wrapped cause.
func New(code ErrorCode, message string) *RelayError {
	return &RelayError{Code: code, Message: message}
}

// Wrap builds a RelayError around an underlying error, preserving it for
// errors.Is/As while keeping the reason tag stable for the agent.
func Wrap(code ErrorCode, message string, err error) *RelayError {
	return &RelayError{Code: code, Message: message, Err: err}
}

// FailureReason renders the stable reason string returned to the agent in
// PayResponse.failureReason / the credit-channel processor's failureReason.
func (e *RelayError) FailureReason() string {
	return e.Message
}

// ErrorResponse is the standardized JSON error body for the HTTP surface.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code, message, and optional context.
type ErrorDetail struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the error response as JSON to the HTTP response writer.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	status := e.Error.Code.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

// WriteError is a convenience function to write an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}

// WriteRelayError writes a RelayError using its own code/message.
func WriteRelayError(w http.ResponseWriter, err *RelayError) {
	WriteError(w, err.Code, err.Message, nil)
}
