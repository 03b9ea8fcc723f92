package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimiter decides whether a keyed caller may proceed.
type RateLimiter interface {
	Allow(key string) bool
}

// retryReporter is implemented by limiters that can tell a caller when to
// come back.
type retryReporter interface {
	RetryAfter(key string) time.Duration
}

// allowSync throttles manual sync triggers per channel and caller, so one
// client cannot starve the queue for a channel it shares with others.
func allowSync(w http.ResponseWriter, limiter RateLimiter, caller, channelID string) bool {
	if limiter == nil {
		return true
	}
	key := "sync:" + channelID + ":" + caller
	if limiter.Allow(key) {
		return true
	}

	wait := time.Minute
	if reporter, ok := limiter.(retryReporter); ok {
		wait = reporter.RetryAfter(key)
	}
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
	return false
}

// callerAddress identifies the client by its connection address. The
// left-most X-Forwarded-For hop is used only when trustForwarded is set, since
// clients can otherwise rotate the header to get a fresh bucket.
func callerAddress(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
