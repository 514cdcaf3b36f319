package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// RateLimit applies a per-client budget of perMinute requests across the
// whole API surface. The counts live in the shared limiter, so every venue
// instance draws from one budget per client. Health probes are exempt;
// load-balancer checks must never eat a client's allowance.
func RateLimit(limiter domain.RateLimiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), "api:"+extractClientIP(r), perMinute, time.Minute)
			if err != nil {
				// Limiter errors fail open.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				tooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// extractClientIP resolves the caller's address: the first X-Forwarded-For
// hop, then X-Real-IP, then the connection's remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
