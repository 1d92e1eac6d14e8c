package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is per-peer token bucket rate limiting middleware for pushed
// inbound events.
type RateLimiter struct {
	mu       sync.Mutex
	peers    map[string]*peer
	limit    rate.Limit
	burst    int
	maxPeers int
}

type peer struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		peers:    make(map[string]*peer),
		limit:    rate.Limit(rps),
		burst:    burst,
		maxPeers: 10000,
	}
}

// Handler returns HTTP middleware that enforces per-peer rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, allowed := rl.allow(realIP(r), time.Now())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string, now time.Time) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p, ok := rl.peers[ip]
	if !ok {
		if len(rl.peers) >= rl.maxPeers {
			return time.Second, false
		}
		p = &peer{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.peers[ip] = p
	}
	p.lastSeen = now

	res := p.lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d, false
	}
	return 0, true
}

// StartCleanup spawns a goroutine that forgets peers idle for longer than
// maxIdle. It stops when ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.cleanup(now.Add(-maxIdle))
			}
		}
	}()
}

func (rl *RateLimiter) cleanup(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, p := range rl.peers {
		if p.lastSeen.Before(cutoff) {
			delete(rl.peers, ip)
		}
	}
}

// Len returns the number of tracked peers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.peers)
}

// realIP extracts the client IP from RemoteAddr. Proxy headers are not
// trusted.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
