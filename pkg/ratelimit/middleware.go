package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/agentmesh/agentmesh/pkg/auth"
)

// Middleware rejects over-limit requests with 429 and a Retry-After header.
// Authenticated requests are keyed by subject, anonymous ones by client IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := l.Allow(identify(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identify(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok && claims.Subject != "" {
		return claims.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
