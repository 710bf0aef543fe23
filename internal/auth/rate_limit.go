package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"drugshop-serverless/internal/observability"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client-IP token bucket for the unauthenticated auth routes.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	maxMemory int
	idle      time.Duration
	resolver  *observability.IPResolver
	now       func() time.Time
}

// NewRateLimiter keys buckets by resolver.ClientIP. A nil resolver keys by the
// connecting peer and ignores X-Forwarded-For.
func NewRateLimiter(perMinute, burst int, resolver *observability.IPResolver) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}

	return &RateLimiter{
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		visitors:  make(map[string]*visitor),
		maxMemory: 5000,
		idle:      10 * time.Minute,
		resolver:  resolver,
		now:       time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(l.resolver.ClientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ip string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	if len(l.visitors) > l.maxMemory {
		threshold := now.Add(-l.idle)
		for key, candidate := range l.visitors {
			if candidate.lastSeen.Before(threshold) {
				delete(l.visitors, key)
			}
		}
	}

	reservation := v.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}

	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}

	reservation.CancelAt(now)
	if delay < time.Second {
		delay = time.Second
	}
	return false, delay
}
