package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/models"
	"github.com/dataanalyst/dataanalyst/internal/security"
	"github.com/go-chi/httprate"
)

const rateWindow = time.Minute

// RateLimit allows limitPerMinute requests per API key, or per client IP for anonymous callers.
func RateLimit(limitPerMinute int) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(rateWindow.Seconds()))
	return httprate.Limit(
		limitPerMinute,
		rateWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := r.Header.Get("X-API-Key"); key != "" {
				return "key:" + security.HashPrefix(key), nil
			}
			ip, err := httprate.KeyByIP(r)
			return "ip:" + ip, err
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			models.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
