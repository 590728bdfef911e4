package strava

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Strava rate limits:
// - 100 requests per 15 minutes
// - 1000 requests per day

// RateLimiter tracks Strava's windowed quotas and paces individual requests
type RateLimiter struct {
	mu sync.Mutex

	// 15-minute window
	shortLimit    int
	shortUsage    int
	shortResetsAt time.Time

	// Daily window
	dailyLimit    int
	dailyUsage    int
	dailyResetsAt time.Time

	pacer *rate.Limiter
	now   func() time.Time
}

// NewRateLimiter creates a new rate limiter with Strava's limits
func NewRateLimiter() *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		shortLimit:    100,
		shortResetsAt: now.Add(15 * time.Minute),
		dailyLimit:    1000,
		dailyResetsAt: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		pacer:         rate.NewLimiter(rate.Every(150*time.Millisecond), 1), // ~6.6 req/s max
		now:           time.Now,
	}
}

// SetPace changes the per-request pacing
func (r *RateLimiter) SetPace(every time.Duration, burst int) {
	r.pacer.SetLimit(rate.Every(every))
	r.pacer.SetBurst(burst)
}

// Wait blocks until a request can be made without exceeding rate limits
func (r *RateLimiter) Wait(ctx context.Context) error {
	if wait := r.windowWait(); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		r.mu.Lock()
		r.resetExpired(r.now().Add(time.Millisecond))
		r.mu.Unlock()
	}

	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.shortUsage++
	r.dailyUsage++
	r.mu.Unlock()
	return nil
}

// windowWait returns how long until an exhausted window reopens
func (r *RateLimiter) windowWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.resetExpired(now)

	var wait time.Duration
	if r.shortUsage >= r.shortLimit {
		wait = r.shortResetsAt.Sub(now)
	}
	if r.dailyUsage >= r.dailyLimit {
		if d := r.dailyResetsAt.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

func (r *RateLimiter) resetExpired(now time.Time) {
	if now.After(r.shortResetsAt) {
		r.shortUsage = 0
		r.shortResetsAt = now.Add(15 * time.Minute)
	}
	if now.After(r.dailyResetsAt) {
		r.dailyUsage = 0
		r.dailyResetsAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// UpdateFromHeaders updates rate limit state from Strava response headers
func (r *RateLimiter) UpdateFromHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strava returns: X-RateLimit-Limit: "100,1000" and X-RateLimit-Usage: "34,512"
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Usage")); ok {
		r.shortUsage, r.dailyUsage = short, daily
	}
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Limit")); ok {
		r.shortLimit, r.dailyLimit = short, daily
	}
}

func parsePair(v string) (int, int, bool) {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// Status returns current rate limit status
func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortLimit - r.shortUsage, r.dailyLimit - r.dailyUsage
}

// Usage returns current usage counts
func (r *RateLimiter) Usage() (shortUsage, dailyUsage int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortUsage, r.dailyUsage
}
