package gatekit

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/plainq/mailrelay/errkit"
	"github.com/plainq/mailrelay/validkit"
)

// DefaultMaxBodyBytes caps the request body read by PayloadValidator.
const DefaultMaxBodyBytes = 10 << 20

// ErrBodyTooLarge is returned for a body above the configured cap.
var ErrBodyTooLarge = errkit.NewHTTPError(http.StatusRequestEntityTooLarge,
	"Request body too large.", errkit.ErrPayloadTooLarge)

// PayloadValidator reads the body, validates it and stores the resulting
// message in the request context for the following stages.
type PayloadValidator struct {
	MaxBytes int64
}

func (v PayloadValidator) Admit(w http.ResponseWriter, r *http.Request) Verdict {
	limit := v.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			return Reject(ErrBodyTooLarge)
		}

		return Reject(errkit.NewHTTPError(http.StatusBadRequest, "Failed to read request body.",
			fmt.Errorf("%w: read body: %w", errkit.ErrInvalidArgument, err)))
	}

	m, err := validkit.Validate(raw)
	if err != nil {
		errs, ok := validkit.Extract(err)
		if !ok {
			return Reject(err)
		}

		return Reject(errkit.NewHTTPError(http.StatusBadRequest, errs.Summary(), err, errs...))
	}

	return Continue(r.WithContext(WithMessage(r.Context(), m)))
}
