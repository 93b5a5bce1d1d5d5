package errkit

import (
	"errors"
	"net/http"
	"strings"
)

// UnknownMessage is the public message of any failure
// which doesn't carry a message of its own.
const UnknownMessage = "Unknown error."

// FieldError describes a single rejected field of a request body.
type FieldError struct {
	Type     string `json:"type"`
	Msg      string `json:"msg"`
	Path     string `json:"path,omitempty"`
	Location string `json:"location,omitempty"`
}

// HTTPError is an error which knows how it should be presented to an HTTP client.
// Message is public. Err is the internal cause and is never sent to the client.
type HTTPError struct {
	Status  int
	Message string
	Fields  []FieldError
	Err     error
}

// NewHTTPError returns an HTTPError with the given status, public message and cause.
func NewHTTPError(status int, message string, cause error, fields ...FieldError) *HTTPError {
	return &HTTPError{
		Status:  status,
		Message: message,
		Fields:  fields,
		Err:     cause,
	}
}

func (e *HTTPError) Error() string {
	if e.Err == nil {
		return e.Message
	}

	if e.Message == "" {
		return e.Err.Error()
	}

	return e.Message + ": " + e.Err.Error()
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Normalize turns any error into an HTTPError ready to be rendered.
//
// An HTTPError found in the chain keeps its status and message, a known
// sentinel is mapped by StatusOf and everything else is reported as
// 500 with UnknownMessage. Zero status and empty message fall back to
// 500 and UnknownMessage as well.
func Normalize(err error) *HTTPError {
	if err == nil {
		return nil
	}

	var out HTTPError

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		out = *httpErr
		out.Err = err
	} else {
		out.Err = err

		var sentinel Error
		if errors.As(err, &sentinel) {
			out.Status = StatusOf(sentinel)
			out.Message = publicMessage(sentinel)
		}
	}

	if out.Status == 0 {
		out.Status = http.StatusInternalServerError
	}

	if out.Message == "" {
		out.Message = UnknownMessage
	}

	return &out
}

// StatusOf maps the package sentinels to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest

	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized

	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed

	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrConnFailed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// publicMessage capitalizes a sentinel and terminates it with a dot,
// e.g. "method not allowed" becomes "Method not allowed.".
func publicMessage(e Error) string {
	s := string(e)
	if s == "" {
		return ""
	}

	return strings.ToUpper(s[:1]) + s[1:] + "."
}
