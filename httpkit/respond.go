package httpkit

import (
	"encoding/json"
	"net/http"

	"github.com/plainq/mailrelay/ctxkit"
	"github.com/plainq/mailrelay/errkit"
)

// ResponseOption represents a function type that modifies ResponseOptions for an HTTP response.
type ResponseOption func(o *ResponseOptions)

// WithStatus sets the given status code as the statusCode field of the ResponseOptions parameter.
func WithStatus(code int) ResponseOption {
	return func(o *ResponseOptions) {
		o.statusCode = code
	}
}

// WithHeader is an Option function that adds the given key-value pair to the headers of the ResponseOptions.
// The headers are used to modify the headers of an HTTP response.
func WithHeader(key, value string) ResponseOption {
	return func(o *ResponseOptions) {
		o.headers.Add(key, value)
	}
}

// ResponseOptions represents a set of options for an HTTP response.
type ResponseOptions struct {
	statusCode int
	headers    http.Header
}

// NewResponseOptions returns a pointer to a new ResponseOptions object with default values and applies the given options to it.
func NewResponseOptions(w http.ResponseWriter, options ...ResponseOption) *ResponseOptions {
	r := ResponseOptions{
		statusCode: http.StatusOK,
		headers:    make(http.Header),
	}

	for _, option := range options {
		option(&r)
	}

	r.setHeadersToResponse(w)

	return &r
}

// setHeadersToResponse sets the headers of the ResponseOptions to the http.ResponseWriter.
func (o *ResponseOptions) setHeadersToResponse(w http.ResponseWriter) {
	for key, vals := range o.headers {
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Message string              `json:"message"`
	Errors  []errkit.FieldError `json:"errors,omitempty"`
}

// JSON tries to encode v into json representation and write it to response writer.
func JSON(w http.ResponseWriter, r *http.Request, v any, options ...ResponseOption) {
	o := NewResponseOptions(w, options...)

	body, err := json.Marshal(v)
	if err != nil {
		// Get log hook from the context to set an error which
		// will be logged along with access log line.
		ctxkit.GetLogErrHook(r.Context())(err)

		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(o.statusCode)

	if _, err := w.Write(append(body, '\n')); err != nil {
		ctxkit.GetLogErrHook(r.Context())(err)
	}
}

// ErrorHTTP normalizes err with errkit.Normalize and writes it as ErrorBody.
// The response status is always the normalized one.
func ErrorHTTP(w http.ResponseWriter, r *http.Request, err error, options ...ResponseOption) {
	// Get log hook from the context to set an error which
	// will be logged along with access log line.
	ctxkit.GetLogErrHook(r.Context())(err)

	httpErr := errkit.Normalize(err)

	JSON(w, r,
		ErrorBody{Message: httpErr.Message, Errors: httpErr.Fields},
		append(options, WithStatus(httpErr.Status))...,
	)
}
