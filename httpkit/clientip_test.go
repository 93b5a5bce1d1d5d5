package httpkit

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/maxatome/go-testdeep/td"
)

func TestClientIP(t *testing.T) {
	type tcase struct {
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}

	tests := map[string]tcase{
		"RemoteAddr": {
			remote: "192.0.2.10:51234",
			want:   "192.0.2.10",
		},
		"IPv6RemoteAddr": {
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
		"HeadersIgnoredWithoutTrust": {
			remote:  "192.0.2.10:51234",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "203.0.113.8"},
			want:    "192.0.2.10",
		},
		"ForwardedForFirstValidHop": {
			remote:     "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "garbage, 203.0.113.7, 10.0.0.2"},
			trustProxy: true,
			want:       "203.0.113.7",
		},
		"RealIP": {
			remote:     "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": " 203.0.113.8 "},
			trustProxy: true,
			want:       "203.0.113.8",
		},
		"TrustedButNoHeaders": {
			remote:     "10.0.0.1:80",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		"NoPort": {
			remote: "192.0.2.10",
			want:   "192.0.2.10",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/mail/send", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}

			td.Cmp(t, ClientIP(r, tc.trustProxy), tc.want)
		})
	}
}

func TestIsSecure(t *testing.T) {
	f := func(t *testing.T, proto string, withTLS, trustProxy, want bool) {
		t.Helper()

		r := httptest.NewRequest("POST", "/mail/send", nil)
		if proto != "" {
			r.Header.Set("X-Forwarded-Proto", proto)
		}
		if withTLS {
			r.TLS = &tls.ConnectionState{}
		}

		td.Cmp(t, IsSecure(r, trustProxy), want)
	}

	f(t, "", true, false, true)
	f(t, "", false, false, false)
	f(t, "https", false, false, false)
	f(t, "https", false, true, true)
	f(t, "HTTPS, http", false, true, true)
	f(t, "http", false, true, false)
}
