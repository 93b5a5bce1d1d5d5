// Package idkit provides the set of functions to generate
// the identifiers used by the relay.
package idkit

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/plainq/mailrelay/errkit"
)

// NewULID returns ULID identifier as string.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to create ulid: %w", err)
	}

	return id.String(), nil
}

// ULID returns ULID identifier as string.
// More about ULID: https://github.com/ulid/spec
// Panics if it fails to generate an ID.
func ULID() string {
	id, err := NewULID()
	if err != nil {
		panic(fmt.Errorf("failed to generate ULID: %w", err))
	}
	return id
}

// ValidateULID validates string representation
// of ULID identifier.
func ValidateULID(id string) error {
	if _, err := ulid.Parse(id); err != nil {
		return errkit.ErrInvalidID
	}

	return nil
}

// RequestID returns a random (version 4) UUID in its canonical textual form.
// Used as the per-request correlation id.
func RequestID() string { return uuid.NewString() }

// ValidateRequestID checks that id is a canonical version 4 UUID.
func ValidateRequestID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 4 || len(id) != 36 {
		return errkit.ErrInvalidID
	}

	return nil
}

// MessageID returns an RFC 5322 Message-ID value, without angle brackets,
// built from a fresh ULID and the given domain. When domain is empty
// the host name is used, falling back to "localhost".
func MessageID(domain string) string {
	if domain == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			domain = h
		} else {
			domain = "localhost"
		}
	}

	return strings.ToLower(ULID()) + "@" + domain
}
