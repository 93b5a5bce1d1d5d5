package gatekit

import (
	"net"
	"net/http"
	"strings"

	"github.com/plainq/mailrelay/httpkit"
)

// TransportGuard sends plain HTTP traffic to the HTTPS equivalent URL.
// In development, plain requests to a loopback host pass.
type TransportGuard struct {
	Development bool
	TrustProxy  bool
}

func (g TransportGuard) Admit(_ http.ResponseWriter, r *http.Request) Verdict {
	if httpkit.IsSecure(r, g.TrustProxy) {
		return Continue(r)
	}

	if g.Development && IsLoopbackHost(r.Host) {
		return Continue(r)
	}

	status := http.StatusPermanentRedirect
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		status = http.StatusMovedPermanently
	}

	return Redirect("https://"+r.Host+r.URL.RequestURI(), status)
}

// IsLoopbackHost reports whether host, with or without a port, names the local machine.
func IsLoopbackHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host = strings.ToLower(strings.Trim(host, "[]"))

	switch {
	case host == "localhost", strings.HasSuffix(host, ".localhost"):
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}
