package gatekit

import (
	"net/http"
	"time"

	"github.com/plainq/mailrelay/ctxkit"
	"github.com/plainq/mailrelay/httpkit"
	"github.com/plainq/mailrelay/idkit"
)

// HeaderRequestID carries the correlation id of the response.
const HeaderRequestID = "X-Request-ID"

// IdentityTagger stamps the request with a fresh correlation id, its
// start time and the resolved client address. It never rejects.
type IdentityTagger struct {
	TrustProxy bool

	// NewID defaults to idkit.RequestID.
	NewID func() string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (t IdentityTagger) Admit(w http.ResponseWriter, r *http.Request) Verdict {
	newID, now := t.NewID, t.Now
	if newID == nil {
		newID = idkit.RequestID
	}

	if now == nil {
		now = time.Now
	}

	id := newID()

	ctx := ctxkit.WithRequestID(r.Context(), id)
	ctx = ctxkit.WithStartTime(ctx, now())
	ctx = ctxkit.WithClientAddr(ctx, httpkit.ClientIP(r, t.TrustProxy))

	w.Header().Set(HeaderRequestID, id)

	return Continue(r.WithContext(ctx))
}
