// Package mailkit describes a validated outbound mail message and the
// Sender contract implemented by the delivery backends in its sub-packages.
package mailkit

import (
	"context"
	"mime"
	"path/filepath"
	"strings"
)

// Sender holds logic of sending an email messages.
type Sender interface {
	// Send hands the message to the provider. A returned error means the
	// provider did not accept the message.
	Send(ctx context.Context, message Message) error
}

// SenderFunc adapts an ordinary function to the Sender interface.
type SenderFunc func(ctx context.Context, message Message) error

func (f SenderFunc) Send(ctx context.Context, message Message) error { return f(ctx, message) }

// Message represents a validated email message.
type Message struct {
	// ID is assigned by the relay when the message is accepted.
	// Backends use it to build the Message-ID header.
	ID string `json:"id,omitempty"`

	From        string        `json:"from"`
	To          []string      `json:"to"`
	Cc          []string      `json:"cc,omitempty"`
	Bcc         []string      `json:"bcc,omitempty"`
	Subject     string        `json:"subject"`
	Text        string        `json:"text,omitempty"`
	HTML        string        `json:"html,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
}

// Recipients returns the envelope recipients: To, Cc and Bcc without duplicates,
// in the order of first appearance.
func (m Message) Recipients() []string {
	seen := make(map[string]struct{}, len(m.To)+len(m.Cc)+len(m.Bcc))
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))

	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, addr := range list {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}

	return out
}

// Attachment is a file attached to the message. Exactly one of
// Href and Content is set by the validator. Resolver fills Content
// for Href attachments before a backend that needs raw bytes runs.
type Attachment struct {
	// Filename that will appear in the email.
	Filename string `json:"filename"`

	// Href is the http(s) URL of a remote file.
	Href string `json:"href,omitempty"`

	// Content is the decoded inline content.
	Content []byte `json:"content,omitempty"`

	// CID is the content id used to reference the attachment from HTML.
	CID string `json:"cid,omitempty"`

	// ContentType of the attachment, if not set will be derived from
	// the filename extension.
	ContentType string `json:"contentType,omitempty"`
}

// MediaType returns ContentType or the media type guessed from the filename.
func (a *Attachment) MediaType() string {
	if a.ContentType != "" {
		return a.ContentType
	}

	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(a.Filename))); t != "" {
		return t
	}

	return "application/octet-stream"
}

// Inline reports whether the attachment is referenced from the HTML body.
func (a *Attachment) Inline() bool { return a.CID != "" }
