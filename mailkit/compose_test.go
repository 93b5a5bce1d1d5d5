package mailkit

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/maxatome/go-testdeep/td"
)

var composeDate = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCompose_SinglePart(t *testing.T) {
	m := Message{
		From:    "a@example.com",
		To:      []string{"b@example.com"},
		Cc:      []string{"c@example.com"},
		Bcc:     []string{"hidden@example.com"},
		Subject: "Grüße",
		Text:    "hello",
	}

	raw, err := ComposeBytes(m, ComposeOptions{MessageID: "01hx@relay.test", Date: composeDate})
	td.CmpNoError(t, err)

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	td.CmpNoError(t, err)

	td.Cmp(t, parsed.Header.Get("From"), td.Contains("a@example.com"))
	td.Cmp(t, parsed.Header.Get("To"), td.Contains("b@example.com"))
	td.Cmp(t, parsed.Header.Get("Cc"), td.Contains("c@example.com"))
	td.Cmp(t, parsed.Header.Get("Bcc"), "")
	td.Cmp(t, parsed.Header.Get("Message-Id"), "<01hx@relay.test>")
	td.CmpFalse(t, bytes.Contains(raw, []byte("hidden@example.com")))

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	td.CmpNoError(t, err)
	td.Cmp(t, subject, "Grüße")

	mediaType, _, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	td.CmpNoError(t, err)
	td.Cmp(t, mediaType, "text/plain")

	body, err := io.ReadAll(parsed.Body)
	td.CmpNoError(t, err)
	td.Cmp(t, strings.TrimSpace(string(body)), "hello")
}

func TestCompose_Attachments(t *testing.T) {
	m := Message{
		From:    "a@example.com",
		To:      []string{"b@example.com"},
		Subject: "report",
		HTML:    `<p>see <img src="cid:logo"></p>`,
		Attachments: []*Attachment{
			{Filename: "report.txt", Content: []byte("Sample Content"), ContentType: "text/plain"},
			{Filename: "logo.png", Content: []byte{0x89, 'P', 'N', 'G'}, CID: "logo"},
		},
	}

	raw, err := ComposeBytes(m, ComposeOptions{Date: composeDate})
	td.CmpNoError(t, err)

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	td.CmpNoError(t, err)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	td.CmpNoError(t, err)
	td.Cmp(t, mediaType, "multipart/mixed")

	type part struct {
		ContentType string
		Disposition string
		ContentID   string
		Body        []byte
	}

	var parts []part

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	for {
		p, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		td.CmpNoError(t, err)

		body, err := io.ReadAll(p)
		td.CmpNoError(t, err)

		if p.Header.Get("Content-Transfer-Encoding") == "base64" {
			body, err = base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(body)), ""))
			td.CmpNoError(t, err)
		}

		ct, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
		disp, _, _ := mime.ParseMediaType(p.Header.Get("Content-Disposition"))

		parts = append(parts, part{
			ContentType: ct,
			Disposition: disp,
			ContentID:   p.Header.Get("Content-Id"),
			Body:        body,
		})
	}

	td.Cmp(t, parts, td.Slice([]part{}, td.ArrayEntries{
		0: td.Struct(part{ContentType: "text/html"}, td.StructFields{
			"Disposition": td.Ignore(),
			"Body":        td.Contains("cid:logo"),
		}),
		1: part{ContentType: "text/plain", Disposition: "attachment", Body: []byte("Sample Content")},
		2: part{ContentType: "image/png", Disposition: "inline", ContentID: "<logo>", Body: []byte{0x89, 'P', 'N', 'G'}},
	}))
}

func TestCompose_Unresolved(t *testing.T) {
	m := Message{
		From:        "a@example.com",
		To:          []string{"b@example.com"},
		Subject:     "report",
		Text:        "see attached",
		Attachments: []*Attachment{{Filename: "remote.pdf", Href: "https://files.example.com/remote.pdf"}},
	}

	_, err := ComposeBytes(m, ComposeOptions{})
	td.CmpErrorIs(t, err, ErrUnresolved)
}
