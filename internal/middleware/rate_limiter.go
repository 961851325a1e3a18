package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per chat user and per client IP.
type RateLimiter struct {
	userLimits map[int64]*entry
	ipLimits   map[string]*entry
	mu         sync.Mutex

	userRate  rate.Limit
	userBurst int
	ipRate    rate.Limit
	ipBurst   int
	idle      time.Duration

	done chan struct{}
	once sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows userMaxRequests per window for each user and
// ipMaxRequests per window for each IP, with bursts of the same size.
func NewRateLimiter(userMaxRequests, ipMaxRequests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		userLimits: make(map[int64]*entry),
		ipLimits:   make(map[string]*entry),
		userRate:   rate.Limit(float64(userMaxRequests) / window.Seconds()),
		userBurst:  userMaxRequests,
		ipRate:     rate.Limit(float64(ipMaxRequests) / window.Seconds()),
		ipBurst:    ipMaxRequests,
		idle:       window,
		done:       make(chan struct{}),
	}

	go rl.cleanup(5 * time.Minute)

	return rl
}

// CheckUserLimit reports whether the user may send another update now.
func (rl *RateLimiter) CheckUserLimit(userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.userLimits[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.userRate, rl.userBurst)}
		rl.userLimits[userID] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// CheckIPLimit reports whether the IP may make another request now.
func (rl *RateLimiter) CheckIPLimit(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.ipLimits[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
		rl.ipLimits[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// GetUserRemaining returns how many requests the user could make right now.
func (rl *RateLimiter) GetUserRemaining(userID int64) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.userLimits[userID]
	if !ok {
		return rl.userBurst
	}
	tokens := int(e.limiter.Tokens())
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Middleware rejects HTTP requests over the IP limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.CheckIPLimit(ip) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanup removes limiters idle for longer than one window.
func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, e := range rl.userLimits {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.userLimits, userID)
		}
	}
	for ip, e := range rl.ipLimits {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.ipLimits, ip)
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// Reset clears all rate limits (useful for testing)
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.userLimits = make(map[int64]*entry)
	rl.ipLimits = make(map[string]*entry)
}
