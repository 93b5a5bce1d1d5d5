package gatekit

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/cors"
	"github.com/plainq/mailrelay/errkit"
)

const (
	// HeaderAPIKey carries the shared key of server to server callers.
	HeaderAPIKey = "X-API-Key"

	// PreflightMaxAge is how long, in seconds, browsers may cache a preflight answer.
	PreflightMaxAge = 900

	allowMethods = "POST,OPTIONS"
	allowHeader  = "POST, OPTIONS"
)

// Rejections of the OriginGate.
var (
	ErrUntrustedOrigin = errkit.NewHTTPError(http.StatusForbidden,
		"Unauthorized Access: untrusted origin", errkit.ErrUnauthorized)

	ErrMethodNotPermitted = errkit.NewHTTPError(http.StatusForbidden,
		"Unauthorized Access: method not permitted", errkit.ErrUnauthorized)

	ErrInvalidAPIKey = errkit.NewHTTPError(http.StatusUnauthorized,
		"Unauthorized Access: invalid API key.", errkit.ErrUnauthenticated)

	ErrMethodNotAllowed = errkit.NewHTTPError(http.StatusMethodNotAllowed,
		"Method not allowed.", errkit.ErrMethodNotAllowed)
)

// OriginGate authenticates the caller. Browsers are recognized by the
// Origin header and checked against the trusted origins. Everybody else
// must present one of the API keys.
type OriginGate struct {
	origins []string
	keys    [][]byte
	cors    *cors.Cors
}

// NewOriginGate returns an OriginGate for the given allow-lists.
func NewOriginGate(trustedOrigins, apiKeys []string) *OriginGate {
	g := OriginGate{
		origins: slices.Clone(trustedOrigins),
		keys:    make([][]byte, 0, len(apiKeys)),
		cors: cors.New(cors.Options{
			AllowedOrigins:     trustedOrigins,
			AllowedMethods:     []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders:     []string{"*"},
			ExposedHeaders:     []string{HeaderRequestID, "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
			AllowCredentials:   false,
			MaxAge:             PreflightMaxAge,
			OptionsPassthrough: true,
		}),
	}

	for _, key := range apiKeys {
		if key != "" {
			g.keys = append(g.keys, []byte(key))
		}
	}

	return &g
}

func (g *OriginGate) Admit(w http.ResponseWriter, r *http.Request) Verdict {
	if origin := r.Header.Get("Origin"); origin != "" {
		return g.admitBrowser(w, r, origin)
	}

	return g.admitServer(w, r)
}

func (g *OriginGate) admitBrowser(w http.ResponseWriter, r *http.Request, origin string) Verdict {
	if !g.trusted(origin) {
		return Reject(ErrUntrustedOrigin)
	}

	if isPreflight(r) {
		requested := r.Header.Get("Access-Control-Request-Method")
		if requested != http.MethodPost && requested != http.MethodOptions {
			return Reject(ErrMethodNotPermitted)
		}

		h := w.Header()

		if !g.decorate(w, r) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")

			if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
		}

		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Max-Age", strconv.Itoa(PreflightMaxAge))

		w.WriteHeader(http.StatusNoContent)

		return Done()
	}

	if r.Method != http.MethodPost {
		return Reject(ErrMethodNotPermitted)
	}

	g.decorate(w, r)

	return Continue(r)
}

func (g *OriginGate) admitServer(w http.ResponseWriter, r *http.Request) Verdict {
	switch r.Method {
	case http.MethodPost:
	case http.MethodOptions:
		w.Header().Set("Allow", allowHeader)
		w.WriteHeader(http.StatusNoContent)

		return Done()

	default:
		w.Header().Set("Allow", allowHeader)
		return Reject(ErrMethodNotAllowed)
	}

	if !g.validKey(r.Header.Get(HeaderAPIKey)) {
		return Reject(ErrInvalidAPIKey)
	}

	return Continue(r)
}

// decorate lets go-chi/cors write the CORS response headers and reports
// whether it allowed the request.
func (g *OriginGate) decorate(w http.ResponseWriter, r *http.Request) bool {
	g.cors.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, r)

	return w.Header().Get("Access-Control-Allow-Origin") != ""
}

func (g *OriginGate) trusted(origin string) bool { return slices.Contains(g.origins, origin) }

// validKey compares against every key in constant time.
func (g *OriginGate) validKey(key string) bool {
	if key == "" {
		return false
	}

	var ok int

	for _, k := range g.keys {
		ok |= subtle.ConstantTimeCompare([]byte(key), k)
	}

	return ok == 1
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
