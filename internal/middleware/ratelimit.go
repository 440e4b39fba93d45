package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttemptsPerMinute is the default number of failed tokens an IP
	// may present per minute.
	DefaultMaxAttemptsPerMinute = 10

	// DefaultMaxTrackedIPs bounds how many IPs are tracked at once.
	DefaultMaxTrackedIPs = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles IPs that keep presenting bad bearer tokens. Each IP
// gets a token bucket refilled at maxPerMinute per minute with a burst of
// maxPerMinute.
type RateLimiter struct {
	mu            sync.Mutex
	entries       map[string]*ipEntry
	limit         rate.Limit
	burst         int
	maxTrackedIPs int
	now           func() time.Time
	cancel        context.CancelFunc
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxTrackedIPs caps the number of IPs tracked; the least recently seen
// IP is evicted when the cap is reached.
func WithMaxTrackedIPs(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.maxTrackedIPs = n
		}
	}
}

// NewRateLimiter starts a limiter allowing maxPerMinute failures per IP per
// minute; 0 selects DefaultMaxAttemptsPerMinute. The cleanup goroutine stops
// when ctx is done or Stop is called.
func NewRateLimiter(ctx context.Context, maxPerMinute int, opts ...RateLimiterOption) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxAttemptsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		entries:       make(map[string]*ipEntry),
		limit:         rate.Limit(float64(maxPerMinute) / 60.0),
		burst:         maxPerMinute,
		maxTrackedIPs: DefaultMaxTrackedIPs,
		now:           time.Now,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(rl)
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow reports whether ip may present another token without recording a
// failure.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[ip]
	if !ok {
		return true
	}
	now := rl.now()
	e.lastSeen = now
	return e.limiter.TokensAt(now) >= 1
}

// RecordFailure charges a failed attempt to ip.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.RecordFailureAndAllow(ip)
}

// RecordFailureAndAllow charges a failed attempt to ip and reports whether ip
// is still within its limit.
func (rl *RateLimiter) RecordFailureAndAllow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	return rl.entryLocked(ip, now).limiter.AllowN(now, 1)
}

// Len returns the number of IPs currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *RateLimiter) entryLocked(ip string, now time.Time) *ipEntry {
	e, ok := rl.entries[ip]
	if !ok {
		if len(rl.entries) >= rl.maxTrackedIPs {
			rl.evictOldestLocked()
		}
		e = &ipEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[ip] = e
	}
	e.lastSeen = now
	return e
}

// Stop cancels the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

func (rl *RateLimiter) removeStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-staleThreshold)
	for ip, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
		}
	}
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldestIP string
	var oldest *ipEntry
	for ip, e := range rl.entries {
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldestIP, oldest = ip, e
		}
	}
	if oldest != nil {
		delete(rl.entries, oldestIP)
	}
}

// ExtractIP returns the host part of a RemoteAddr, or remoteAddr itself when
// it carries no port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
