// Package errortypes provides the classified errors surfaced by a recognition or enrollment request.
package errortypes

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the request boundary must report it.
type Kind string

const (
	KindInput      Kind = "input"
	KindDetection  Kind = "detection"
	KindTimeout    Kind = "timeout"
	KindUnexpected Kind = "unexpected"
)

// AppError is an error with a kind and a user-facing message.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Input reports missing or invalid request data.
func Input(message string) *AppError {
	return &AppError{Kind: KindInput, Message: message}
}

// Detection reports an unreadable image or a detector failure.
func Detection(message string, err error) *AppError {
	return &AppError{Kind: KindDetection, Message: message, Err: err}
}

// Timeout reports that the request deadline passed before a result was assembled.
func Timeout(err error) *AppError {
	return &AppError{Kind: KindTimeout, Message: "Recognition timed out", Err: err}
}

// Unexpected wraps any other failure of the pipeline.
func Unexpected(err error) *AppError {
	return &AppError{Kind: KindUnexpected, Message: "Recognition error", Err: err}
}

// KindOf extracts the kind of err. Unclassified errors are unexpected.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps an error to the status code the web layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput, KindDetection:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return fmt.Sprintf("Recognition error: %v", err)
}
