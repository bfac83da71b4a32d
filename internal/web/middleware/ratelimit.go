package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter holds the limiter of one user and when it was last used.
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter limits requests per authenticated user.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

// NewRateLimiter allows perMinute requests per user and minute, with bursts of the same size.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		ttl:      30 * time.Minute,
		limiters: make(map[string]*userLimiter),
	}
}

// Middleware rejects requests over the limit with 429. It must run after RequireAuth.
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !rl.limiterFor(userID, time.Now()).Allow() {
				slog.Warn("rate limit exceeded", slog.String("user_id", userID), slog.String("path", r.URL.Path))
				writeRateLimitResponse(w, rl.limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterFor returns the user's limiter and drops limiters idle for longer than the ttl.
func (rl *RateLimiter) limiterFor(userID string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > rl.ttl {
			delete(rl.limiters, id)
		}
	}
	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[userID] = ul
	}
	ul.lastAccess = now
	return ul.limiter
}

// LimiterCount returns the number of tracked users.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// writeRateLimitResponse writes 429 with the seconds until the next token in Retry-After.
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfter := max(int(math.Ceil(1.0/float64(r))), 1)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  "too many requests",
		"action": "Please wait and retry after the specified time.",
	})
}
