// Package apperr defines the error taxonomy shared by the routing core.
// Every error carries a machine-readable code so callers can branch on the
// condition without parsing human-readable text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error condition. Codes are part of the API contract —
// clients switch on them — so they never change once shipped.
type Code string

const (
	// CodeNotFound: entity absent, or present but owned by another tenant.
	// Cross-tenant reads are indistinguishable from missing rows on purpose.
	CodeNotFound Code = "NotFound"

	// CodeOwnershipConflict: the actor lacks the capability or ownership
	// required for the mutation (ticket accepted by someone else, send
	// without permission, ...).
	CodeOwnershipConflict Code = "OwnershipConflict"

	// CodeChannelDisconnected: the ticket's channel is not CONNECTED or has
	// been soft-deleted. This is a soft failure — the dispatch path returns
	// it inside the success envelope, never as an error.
	CodeChannelDisconnected Code = "ChannelDisconnected"

	// CodeTransport: the delivery collaborator failed. Not retried here;
	// retry policy belongs to the transport.
	CodeTransport Code = "TransportError"

	// CodeValidation: a malformed update payload (bad email, short name...).
	CodeValidation Code = "ValidationError"

	// CodeUnauthorized: missing or invalid credentials.
	CodeUnauthorized Code = "Unauthorized"
)

// Error is a coded application error.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the code to its transport-level status. Soft failures
// (ChannelDisconnected) never reach this path; they ride the 200 envelope.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeOwnershipConflict:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the code from err, or empty when err is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
