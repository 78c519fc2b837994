package authapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

const msgTooManyRequests = "Too many requests"

// ceremonyLimiter limits ceremony routes per client IP. The key follows the
// same proxy policy as clientIP.
func (h *Handler) ceremonyLimiter() func(http.Handler) http.Handler {
	if h.cfg.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	key := httprate.KeyByIP
	if h.cfg.TrustProxy {
		key = httprate.KeyByRealIP
	}
	window := h.cfg.RateLimitWindow
	return httprate.Limit(h.cfg.RateLimitRequests, window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			h.log.Warn("auth.rate_limited", "path", r.URL.Path)
			writeRateLimited(w, window)
		}),
	)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	writeRateLimitedMsg(w, retryAfter, msgTooManyRequests)
}

func writeRateLimitedMsg(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, msg)
}
