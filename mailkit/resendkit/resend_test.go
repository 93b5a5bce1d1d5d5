package resendkit

import (
	"context"
	"errors"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/plainq/mailrelay/mailkit"
	"github.com/resend/resend-go/v2"
)

type fakeEmails struct {
	got *resend.SendEmailRequest
	err error
}

func (f *fakeEmails) SendWithContext(_ context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return &resend.SendEmailResponse{Id: "re_123"}, nil
}

func withEmails(api emailsAPI) Option { return func(s *ResendSender) { s.emails = api } }

func TestResendSender_Send(t *testing.T) {
	fake := &fakeEmails{}
	s := NewResendSender("re_key", withEmails(fake))

	err := s.Send(context.Background(), mailkit.Message{
		ID:      "01HX",
		From:    "a@example.com",
		To:      []string{"b@example.com"},
		Bcc:     []string{"c@example.com"},
		Subject: "hi",
		HTML:    "<p>hello</p>",
		Attachments: []*mailkit.Attachment{
			{Filename: "remote.pdf", Href: "https://files.example.com/remote.pdf"},
			{Filename: "note.txt", Content: []byte("Sample Content"), ContentType: "text/plain"},
		},
	})
	td.CmpNoError(t, err)

	td.Cmp(t, fake.got, td.Struct(&resend.SendEmailRequest{
		From:    "a@example.com",
		To:      []string{"b@example.com"},
		Bcc:     []string{"c@example.com"},
		Subject: "hi",
		Html:    "<p>hello</p>",
		Headers: map[string]string{"X-Entity-Ref-ID": "01HX"},
	}, td.StructFields{
		"Attachments": []*resend.Attachment{
			{Filename: "remote.pdf", Path: "https://files.example.com/remote.pdf", ContentType: "application/pdf"},
			{Filename: "note.txt", Content: []byte("Sample Content"), ContentType: "text/plain"},
		},
		"Cc": td.Empty(),
	}))
}

func TestResendSender_SendError(t *testing.T) {
	s := NewResendSender("re_key", withEmails(&fakeEmails{err: errors.New("422 validation_error")}))

	err := s.Send(context.Background(), mailkit.Message{From: "a@example.com", To: []string{"b@example.com"}})
	td.CmpString(t, err, "resend: sending email: 422 validation_error")
}

func TestResendSender_Health(t *testing.T) {
	td.CmpNoError(t, NewResendSender("re_key").Health(context.Background()))
	td.Cmp(t, NewResendSender("").Health(context.Background()), ErrAPIKeyRequired)
}
