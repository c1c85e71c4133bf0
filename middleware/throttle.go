package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/internal/slogx"
	"golang.org/x/time/rate"
)

// ClientIP stores the caller's IP in the request context with
// [deskauth.WithClientIP], where Login picks it up. Forwarding headers are
// only read when trustProxy is set.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := deskauth.WithClientIP(r.Context(), RequestIP(r, trustProxy))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIP extracts the client address from r.
func RequestIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ThrottleConfig sets the per-IP request budget.
type ThrottleConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// DefaultThrottle suits the login and refresh endpoints: lockout stops
// guessing per account, this stops one IP from hammering the store.
var DefaultThrottle = ThrottleConfig{RequestsPerWindow: 30, Window: time.Minute, Burst: 10}

type throttle struct {
	limit rate.Limit
	burst int

	limiters sync.Map // ip -> *rate.Limiter

	mu          sync.Mutex
	lastCleanup time.Time
}

func (t *throttle) limiter(key string) *rate.Limiter {
	if l, ok := t.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := t.limiters.LoadOrStore(key, rate.NewLimiter(t.limit, t.burst))
	t.maybeCleanup()
	return l.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, at most once every
// five minutes.
func (t *throttle) maybeCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.lastCleanup) < 5*time.Minute {
		return
	}
	t.lastCleanup = time.Now()

	t.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(t.burst) {
			t.limiters.Delete(key)
		}
		return true
	})
}

// Throttle limits requests per client IP, as set by [ClientIP]. It is an
// in-process guard in front of the engine and shares no state across
// replicas.
func Throttle(cfg ThrottleConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerWindow <= 0 || cfg.Window <= 0 {
		cfg = DefaultThrottle
	}
	t := &throttle{
		limit:       rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       max(cfg.Burst, 1),
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := deskauth.ClientIPFromContext(r.Context())
			if ip == "" {
				ip = RequestIP(r, false)
			}

			l := t.limiter(ip)
			if !l.Allow() {
				res := l.Reserve()
				delay := res.Delay()
				res.Cancel()

				retryAfter := max(int(delay.Seconds()), 1)
				slogx.FromContext(r.Context(), slogx.Discard()).WarnContext(r.Context(), "throttled",
					"ip", ip,
					"path", r.URL.Path,
					"retry_after", retryAfter,
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				WriteJSON(w, http.StatusTooManyRequests, ErrorBody{
					Error:   "rate_limited",
					Message: "too many requests, try again later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
