package mailkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maxatome/go-testdeep/td"
)

func TestResolver_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))

		case "/blob":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("blob"))

		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	resolver := NewResolver(srv.Client(), WithMaxBytes(32))

	t.Run("Fetched", func(t *testing.T) {
		inline := &Attachment{Filename: "note.txt", Content: []byte("inline")}
		logo := &Attachment{Filename: "logo", Href: srv.URL + "/logo.png"}
		blob := &Attachment{Filename: "data.json", Href: srv.URL + "/blob"}

		m := Message{Attachments: []*Attachment{inline, logo, blob}}
		td.CmpNoError(t, resolver.Resolve(context.Background(), &m))

		td.Cmp(t, inline.Content, []byte("inline"))
		td.Cmp(t, logo.Content, []byte("png-bytes"))
		td.Cmp(t, logo.MediaType(), "image/png")
		td.Cmp(t, blob.Content, []byte("blob"))
		td.Cmp(t, blob.MediaType(), "application/json")
	})

	t.Run("NotFound", func(t *testing.T) {
		m := Message{Attachments: []*Attachment{{Filename: "x", Href: srv.URL + "/missing"}}}

		err := resolver.Resolve(context.Background(), &m)
		td.CmpErrorIs(t, err, ErrAttachmentFetch)
		td.CmpTrue(t, IsAttachmentError(err))
	})

	t.Run("TooLarge", func(t *testing.T) {
		m := Message{Attachments: []*Attachment{{Filename: "x", Href: srv.URL + "/big"}}}

		td.CmpErrorIs(t, resolver.Resolve(context.Background(), &m), ErrAttachmentTooLarge)
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		m := Message{Attachments: []*Attachment{{Filename: "x", Href: srv.URL + "/logo.png"}}}
		td.CmpErrorIs(t, resolver.Resolve(ctx, &m), context.Canceled)
	})
}
