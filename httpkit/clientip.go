package httpkit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address of the caller. Proxy headers are only
// trusted when trustProxy is set: the first valid X-Forwarded-For hop,
// then X-Real-IP. Otherwise, or when they hold nothing usable, the
// RemoteAddr host is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			for ip := range strings.SplitSeq(forwarded, ",") {
				if parsed := parseIP(ip); parsed != "" {
					return parsed
				}
			}
		}

		if parsed := parseIP(r.Header.Get("X-Real-IP")); parsed != "" {
			return parsed
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port.
		if parsed := parseIP(r.RemoteAddr); parsed != "" {
			return parsed
		}

		return r.RemoteAddr
	}

	if parsed := parseIP(host); parsed != "" {
		return parsed
	}

	return host
}

// IsSecure reports whether the request came over TLS, directly or,
// with trustProxy, as declared by X-Forwarded-Proto.
func IsSecure(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}

	if !trustProxy {
		return false
	}

	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")

	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// parseIP validates and normalizes an IP address string.
// Returns empty string if the IP is invalid.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}

	return ip.String()
}
