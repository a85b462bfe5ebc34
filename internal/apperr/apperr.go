// Package apperr defines the error taxonomy shared by every service.
// Handlers map each kind to a distinct HTTP status; the websocket binding
// maps them to *_ERROR envelopes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindValidation covers malformed or missing input and policy
	// threshold violations (e.g. the start-rental distance limit).
	KindValidation Kind = iota + 1
	// KindAuth covers bad credentials and unknown or expired tokens.
	KindAuth
	// KindNotFound covers unknown ids, VINs and command ids.
	KindNotFound
	// KindConflict covers state already occupied: an active rental, a car
	// that is not available, a double ack, a lost compare-and-set race.
	KindConflict
	// KindPrecondition covers safety-state checks failing at end-rental.
	// The error carries every violated flag in Issues.
	KindPrecondition
)

type Error struct {
	Kind    Kind
	Message string
	Issues  []string
}

func (e *Error) Error() string { return e.Message }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authf(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Precondition builds a safety-check failure listing every violated flag.
func Precondition(message string, issues []string) *Error {
	return &Error{Kind: KindPrecondition, Message: message, Issues: issues}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// HTTPStatus maps the error kind to its response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
