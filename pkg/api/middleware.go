package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/meridiancompliance/shield/pkg/ratelimit"
)

// RateLimitMiddleware enforces a per-caller request limit using the
// provided limiter (in-process or Redis-backed). Callers are identified
// by their source IP.
func RateLimitMiddleware(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				WriteInternal(w, err)
				return
			}
			if !ok {
				WriteTooManyRequests(w, 5)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller's address from RemoteAddr, tolerating
// the absence of a port and IPv6 bracket notation.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
