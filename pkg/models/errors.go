package models

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent modification")
	ErrReconciliation    = errors.New("pair reconciliation failed")
	ErrValidation        = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid transition")
)

// LinkageError is a domain error carrying one of the sentinel kinds above.
type LinkageError struct {
	Kind    error
	Message string
	Meta    map[string]any
}

// NewLinkageError creates a LinkageError of the given kind.
func NewLinkageError(kind error, format string, args ...any) *LinkageError {
	return &LinkageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *LinkageError) Error() string {
	return e.Kind.Error() + ": " + e.Message
}

func (e *LinkageError) Unwrap() error {
	return e.Kind
}

// AddMeta attaches a value rendered with the error response.
func (e *LinkageError) AddMeta(key string, value any) *LinkageError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

// StatusCode maps the error kind onto an http status.
func (e *LinkageError) StatusCode() int {
	switch e.Kind {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrReconciliation:
		return http.StatusConflict
	case ErrValidation, ErrInvalidTransition:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (e *LinkageError) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.StatusCode(), e.Error())
	for k, v := range e.Meta {
		herr = herr.AddMetaValue(k, v)
	}
	return herr
}

// IsNotFound reports whether err is a not found error, either a LinkageError
// or an httperror with status 404.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}
