package erpsync

import (
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

// DefaultRateLimitInterval matches the ERP vendor's published throttle.
const DefaultRateLimitInterval = 5 * time.Second

// RateLimiter enforces a minimum gap between outbound requests to the ERP
// API. The critical section covers check-then-sleep-then-restamp, so
// concurrent callers sharing one instance still observe a strictly
// serialized interval. One instance per external API; inject it, never
// construct it ad hoc inside a client.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
	total       int64
	windowStart time.Time
}

type RateLimiterStats struct {
	TotalRequests     int64   `json:"total_requests"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
	MinIntervalSecs   float64 `json:"min_interval_seconds"`
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval <= 0 {
		minInterval = DefaultRateLimitInterval
	}
	return &RateLimiter{
		minInterval: minInterval,
		windowStart: time.Now(),
	}
}

// NewRateLimiterFromEnv reads ERP_RATE_LIMIT_SECONDS (default 5).
func NewRateLimiterFromEnv() *RateLimiter {
	secs := utils.EnvInt("ERP_RATE_LIMIT_SECONDS", 5)
	return NewRateLimiter(time.Duration(secs) * time.Second)
}

// WaitForNextSlot blocks until the minimum interval since the previous
// request has passed and returns the seconds actually slept. The timestamp
// is re-stamped AFTER the sleep, so slow downstream processing between
// calls cannot shrink the enforced gap.
func (r *RateLimiter) WaitForNextSlot() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	now := time.Now()
	if r.last.IsZero() {
		r.last = now
		return 0
	}

	var waited time.Duration
	if elapsed := now.Sub(r.last); elapsed < r.minInterval {
		waited = r.minInterval - elapsed
		// sleep while holding the lock: concurrent callers must serialize
		time.Sleep(waited)
	}
	r.last = time.Now()
	return waited.Seconds()
}

// MarkCompleted moves the reference point to response-received time, so the
// interval is measured from completion rather than request start. The stamp
// only ever moves forward; WaitForNextSlot may already have stamped later.
func (r *RateLimiter) MarkCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now := time.Now(); now.After(r.last) {
		r.last = now
	}
}

func (r *RateLimiter) Stats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.windowStart).Seconds()
	perMinute := 0.0
	if elapsed > 0 {
		perMinute = float64(r.total) / elapsed * 60
	}
	return RateLimiterStats{
		TotalRequests:     r.total,
		ElapsedSeconds:    elapsed,
		RequestsPerMinute: perMinute,
		MinIntervalSecs:   r.minInterval.Seconds(),
	}
}
