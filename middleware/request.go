package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// RequestContext returns r's context carrying the client IP and User-Agent
// for throttling, audit and session device metadata.
func RequestContext(r *http.Request) context.Context {
	ctx := r.Context()
	ctx = authcore.WithClientIP(ctx, ClientIP(r))
	ctx = authcore.WithUserAgent(ctx, r.UserAgent())
	return ctx
}

// ClientIP returns the first X-Forwarded-For hop when present, otherwise
// the host part of RemoteAddr. Deployments not behind a trusted proxy
// should strip X-Forwarded-For upstream.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
