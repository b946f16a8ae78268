package baas

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("not authenticated")
	ErrForbidden          = errors.New("not allowed by row-level policy")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrProcedureNotFound  = errors.New("remote procedure not found")
	ErrRealtimeDisabled   = errors.New("realtime not available")
	ErrInvalidCredentials = errors.New("invalid login credentials")
)

// Error is an error reported by the backend. Message is the backend's own
// text, suitable for showing to the user verbatim.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// Unwrap maps the status onto the package sentinels so callers can use
// errors.Is without caring which backend produced the error.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	}
	return nil
}

// NewError builds an Error wrapping a sentinel.
func NewError(status int, sentinel error, message string) *Error {
	return &Error{Status: status, Message: message, Err: sentinel}
}

// Message extracts the user-facing text of a backend error, falling back to
// err.Error() for anything else.
func Message(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
