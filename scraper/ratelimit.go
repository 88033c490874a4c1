package scraper

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"partscout/config"
)

// RateLimiterTable holds one token bucket per site. State is
// in-process only: a restart refills every bucket, and running more
// than one orchestrator per deployment would need an external bucket.
type RateLimiterTable struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiterTable(sites map[string]*config.SiteConfig) *RateLimiterTable {
	limiters := make(map[string]*rate.Limiter, len(sites))
	for id, site := range sites {
		limiters[id] = newBucket(site.RateLimit)
	}
	return &RateLimiterTable{limiters: limiters}
}

func newBucket(cfg config.RateLimitConfig) *rate.Limiter {
	tokens := cfg.Tokens
	if tokens <= 0 {
		tokens = 10
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	// Burst of tokens, refilling evenly across the interval.
	return rate.NewLimiter(rate.Every(interval/time.Duration(tokens)), tokens)
}

// Allow consumes one token for the site, failing fast when the bucket
// is empty so the queue can reschedule instead of stalling the refill.
func (t *RateLimiterTable) Allow(site string) error {
	t.mu.Lock()
	limiter, ok := t.limiters[site]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	if !limiter.Allow() {
		return fmt.Errorf("%w: %s", ErrRateLimited, site)
	}
	return nil
}

// Add registers a bucket for a site at runtime; existing buckets are
// left alone so accumulated state survives re-registration.
func (t *RateLimiterTable) Add(site string, cfg config.RateLimitConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.limiters[site]; !ok {
		t.limiters[site] = newBucket(cfg)
	}
}
