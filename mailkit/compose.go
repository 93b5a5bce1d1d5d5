package mailkit

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// ComposeOptions holds the values of a composed message which
// don't come from the Message itself.
type ComposeOptions struct {
	MessageID string
	Date      time.Time
}

// Compose writes m as an RFC 5322 message to w. Bcc recipients are not
// written to the headers. Attachment content must already be resolved.
func Compose(w io.Writer, m Message, o ComposeOptions) error {
	if o.Date.IsZero() {
		o.Date = time.Now()
	}

	var h mail.Header
	h.SetDate(o.Date)
	h.SetAddressList("From", addressList([]string{m.From}))
	h.SetAddressList("To", addressList(m.To))

	if len(m.Cc) > 0 {
		h.SetAddressList("Cc", addressList(m.Cc))
	}

	h.SetSubject(m.Subject)

	if o.MessageID != "" {
		h.SetMessageID(o.MessageID)
	}

	bodyType := "text/plain"
	body := m.Text

	if m.HTML != "" {
		bodyType = "text/html"
		body = m.HTML
	}

	if len(m.Attachments) == 0 {
		h.SetContentType(bodyType, map[string]string{"charset": "utf-8"})

		bw, err := mail.CreateSingleInlineWriter(w, h)
		if err != nil {
			return fmt.Errorf("create body writer: %w", err)
		}

		if _, err := io.WriteString(bw, body); err != nil {
			return fmt.Errorf("write body: %w", err)
		}

		return bw.Close()
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("create multipart writer: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType(bodyType, map[string]string{"charset": "utf-8"})

	bw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return fmt.Errorf("create body part: %w", err)
	}

	if _, err := io.WriteString(bw, body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	if err := bw.Close(); err != nil {
		return fmt.Errorf("close body part: %w", err)
	}

	for i, a := range m.Attachments {
		if a.Content == nil && a.Href != "" {
			return fmt.Errorf("attachment %d (%s): %w", i, a.Filename, ErrUnresolved)
		}

		if err := writeAttachment(mw, a); err != nil {
			return fmt.Errorf("attachment %d (%s): %w", i, a.Filename, err)
		}
	}

	return mw.Close()
}

// ComposeBytes is Compose into a buffer.
func ComposeBytes(m Message, o ComposeOptions) ([]byte, error) {
	var buf bytes.Buffer

	if err := Compose(&buf, m, o); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeAttachment(mw *mail.Writer, a *Attachment) error {
	var ah mail.AttachmentHeader
	ah.SetContentType(a.MediaType(), nil)

	if a.Inline() {
		ah.SetContentDisposition("inline", map[string]string{"filename": a.Filename})
		ah.Set("Content-Id", "<"+a.CID+">")
	} else {
		ah.SetFilename(a.Filename)
	}

	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}

	if _, err := aw.Write(a.Content); err != nil {
		return fmt.Errorf("write content: %w", err)
	}

	return aw.Close()
}

func addressList(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, addr := range list {
		out = append(out, &mail.Address{Address: addr})
	}

	return out
}
