// Package core provides shared types and the error taxonomy for the image gateway.
package core

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway errors by failure domain.
type ErrorKind string

const (
	// ErrorKindValidation indicates invalid client input (4xx).
	ErrorKindValidation ErrorKind = "validation_error"
	// ErrorKindConnection indicates the object store client was never initialized.
	// Requires a process restart to recover.
	ErrorKindConnection ErrorKind = "connection_error"
	// ErrorKindBackend indicates an object store operation fault (5xx).
	ErrorKindBackend ErrorKind = "backend_error"
	// ErrorKindNotFound indicates the requested object does not exist (404).
	ErrorKindNotFound ErrorKind = "not_found_error"
	// ErrorKindEmbed indicates an embedding inference fault. Never fatal to an upload.
	ErrorKindEmbed ErrorKind = "embed_error"
	// ErrorKindPersistence indicates a metadata insert fault. Never fatal to an upload.
	ErrorKindPersistence ErrorKind = "persistence_error"
)

// GatewayError is the base error type for all gateway errors.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	// Original error for debugging, exposed to clients only in debug mode.
	Err error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code for this error kind.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a response body. The underlying error text is
// attached as "details" only when debug is enabled; production responses carry
// the human-readable message alone.
func (e *GatewayError) ToJSON(debug bool) map[string]interface{} {
	body := map[string]interface{}{
		"error": e.Message,
	}
	if debug && e.Err != nil {
		body["details"] = e.Err.Error()
	}
	return body
}

// NewValidationError creates a client input error (400).
func NewValidationError(message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindValidation, Message: message}
}

// NewConnectionError creates an error for operations attempted while the object
// store client is not initialized (500).
func NewConnectionError(message string, err error) *GatewayError {
	return &GatewayError{Kind: ErrorKindConnection, Message: message, Err: err}
}

// NewBackendError creates an object store operation error (500).
func NewBackendError(message string, err error) *GatewayError {
	return &GatewayError{Kind: ErrorKindBackend, Message: message, Err: err}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindNotFound, Message: message}
}

// NewEmbedError creates an embedding inference error. Callers swallow it.
func NewEmbedError(message string, err error) *GatewayError {
	return &GatewayError{Kind: ErrorKindEmbed, Message: message, Err: err}
}

// NewPersistenceError creates a metadata persistence error. Callers swallow it.
func NewPersistenceError(message string, err error) *GatewayError {
	return &GatewayError{Kind: ErrorKindPersistence, Message: message, Err: err}
}
