// ratelimit.go - Sliding-window limiter keyed by client IP, applied to the
// password grant.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rateLimiter allows rate requests per window for each IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	now      func() time.Time

	// trustProxy keys visitors by X-Forwarded-For / X-Real-IP.
	trustProxy bool
}

type visitor struct {
	mu       sync.Mutex
	requests []time.Time
}

func newRateLimiter(rate int, window time.Duration, trustProxy bool) *rateLimiter {
	return &rateLimiter{
		visitors:   make(map[string]*visitor),
		rate:       rate,
		window:     window,
		now:        time.Now,
		trustProxy: trustProxy,
	}
}

// middleware rejects requests over the limit with 429 and Retry-After.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(getClientIP(r, rl.trustProxy)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeDetail(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{requests: make([]time.Time, 0, rl.rate)}
		rl.visitors[ip] = v
	}
	rl.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept

	if len(v.requests) >= rl.rate {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}

// run drops idle visitors until ctx is done.
func (rl *rateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.window)
	for ip, v := range rl.visitors {
		v.mu.Lock()
		if len(v.requests) == 0 || v.requests[len(v.requests)-1].Before(cutoff) {
			delete(rl.visitors, ip)
		}
		v.mu.Unlock()
	}
}

// getClientIP returns RemoteAddr without the port. With trustProxy the
// proxy headers win; otherwise a client could rotate them freely.
func getClientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r.RemoteAddr)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return remoteHost(r.RemoteAddr)
}

func remoteHost(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
