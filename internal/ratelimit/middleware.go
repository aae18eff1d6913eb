package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/vaayugo-api/internal/common"
)

const limitedMessage = "too many requests - try again shortly"

// Config selects the bucket for a request and its size.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler rejects requests whose bucket is full. A failing limiter lets traffic through.
type Handler struct {
	Limiter Allower
	Config  Config
	OnError func(error)
}

// CallerOrIP buckets authenticated callers by user id and everyone else by client IP.
func CallerOrIP(r *http.Request) string {
	if id, ok := common.UserIDInt(r.Context()); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + common.ClientIP(r)
}

func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Config.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Config.Key(r)
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			h.limiterFailed(r, key, err)
			next.ServeHTTP(w, r)
			return
		}

		writeLimitHeaders(w.Header(), max(h.Config.Max, 0), remaining, resetAt)
		if !allowed {
			wait := math.Ceil(time.Until(resetAt).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(int(max(wait, 0))))
			common.JSONMessage(w, http.StatusTooManyRequests, "RATE_LIMITED", limitedMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h Handler) limiterFailed(r *http.Request, key string, err error) {
	if h.OnError != nil {
		h.OnError(err)
		return
	}
	zerolog.Ctx(r.Context()).Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
}

func writeLimitHeaders(hdr http.Header, limit, remaining int, resetAt time.Time) {
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
