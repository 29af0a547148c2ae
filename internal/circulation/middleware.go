// internal/circulation/middleware.go
package circulation

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit caps the request rate on the routes it wraps. Desk operations
// are human-paced; the limiter mostly shields the search collaborator from
// scripted bursts.
func RateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
