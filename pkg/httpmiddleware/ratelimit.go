package httpmiddleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client token bucket limiter.
type RateLimitConfig struct {
	// RPS is the sustained request rate allowed per client.
	RPS float64
	// Burst is the bucket size: how many requests a client may send at once
	// before the sustained rate applies.
	Burst int
	// KeyFunc extracts the rate limit key from a request. If nil, the client
	// IP address is used.
	KeyFunc func(*http.Request) string
	// TTL controls how long an idle client's bucket is kept before the
	// janitor drops it. Defaults to 3 minutes.
	TTL time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*client
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.Allow()
}

// sweep drops buckets idle for longer than the TTL. Runs until stop is
// closed.
func (rl *rateLimiter) sweep(stop <-chan struct{}) {
	ticker := time.NewTicker(rl.cfg.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, c := range rl.clients {
				if now.Sub(c.lastSeen) > rl.cfg.TTL {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit returns a middleware enforcing a per-client token bucket and a
// stop function that releases the background janitor.
func RateLimit(cfg RateLimitConfig) (Middleware, func()) {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3 * time.Minute
	}
	rl := &rateLimiter{cfg: cfg, clients: make(map[string]*client)}

	stop := make(chan struct{})
	go rl.sweep(stop)

	var once sync.Once
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(cfg.KeyFunc(r), time.Now()) {
				retryAfter := 1
				if cfg.RPS < 1 && cfg.RPS > 0 {
					retryAfter = int(1 / cfg.RPS)
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return mw, func() { once.Do(func() { close(stop) }) }
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
