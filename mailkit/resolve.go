package mailkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

const (
	// ErrUnresolved is returned when a backend needs the bytes
	// of an href attachment which was not resolved.
	ErrUnresolved Error = "attachment content is not resolved"

	// ErrAttachmentTooLarge is returned when a remote attachment exceeds the size cap.
	ErrAttachmentTooLarge Error = "attachment exceeds size limit"

	// ErrAttachmentFetch is returned when a remote attachment could not be fetched.
	ErrAttachmentFetch Error = "attachment fetch failed"

	defaultMaxAttachmentBytes = 10 << 20
)

// Error represents package level errors.
type Error string

func (e Error) Error() string { return string(e) }

// Doer is the part of http.Client used by Resolver.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver downloads the content of href attachments.
type Resolver struct {
	client   Doer
	maxBytes int64
}

// ResolverOption configures a Resolver.
type ResolverOption func(r *Resolver)

// WithMaxBytes caps the size of a single remote attachment.
func WithMaxBytes(n int64) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// NewResolver returns a Resolver fetching through client.
func NewResolver(client Doer, options ...ResolverOption) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}

	r := Resolver{
		client:   client,
		maxBytes: defaultMaxAttachmentBytes,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Resolve fills Content of every href attachment of m which has no content yet.
// Attachments are modified in place. Fetches run one after another so a
// message never holds more than one open download.
func (r *Resolver) Resolve(ctx context.Context, m *Message) error {
	for i, a := range m.Attachments {
		if a.Href == "" || a.Content != nil {
			continue
		}

		content, contentType, err := r.fetch(ctx, a.Href)
		if err != nil {
			return fmt.Errorf("attachment %d (%s): %w", i, a.Filename, err)
		}

		a.Content = content

		if a.ContentType == "" && contentType != "" {
			a.ContentType = contentType
		}
	}

	return nil
}

func (r *Resolver) fetch(ctx context.Context, href string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrAttachmentFetch, err)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrAttachmentFetch, err)
	}

	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: unexpected status %d", ErrAttachmentFetch, res.StatusCode)
	}

	if res.ContentLength > r.maxBytes {
		return nil, "", ErrAttachmentTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %w", ErrAttachmentFetch, err)
	}

	if int64(len(body)) > r.maxBytes {
		return nil, "", ErrAttachmentTooLarge
	}

	return body, mediaType(res.Header.Get("Content-Type")), nil
}

// mediaType strips parameters from a Content-Type value.
// Generic binary types are dropped so the filename extension wins.
func mediaType(v string) string {
	t, _, err := mime.ParseMediaType(v)
	if err != nil || t == "application/octet-stream" {
		return ""
	}

	return t
}

// IsAttachmentError reports whether err came from resolving attachments.
func IsAttachmentError(err error) bool {
	return errors.Is(err, ErrAttachmentFetch) || errors.Is(err, ErrAttachmentTooLarge) || errors.Is(err, ErrUnresolved)
}
