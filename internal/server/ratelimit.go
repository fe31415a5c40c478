package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig bounds how much a single client may ask for. Zero
// disables a limit.
type RateLimitConfig struct {
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int   `mapstructure:"requests_per_day" yaml:"requests_per_day" json:"requests_per_day"`
	MaxBytesPerDay    int64 `mapstructure:"max_bytes_per_day" yaml:"max_bytes_per_day" json:"max_bytes_per_day"`
	// TrustProxyHeaders keys clients by X-Forwarded-For or X-Real-IP. Enable
	// it only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool  `mapstructure:"trust_proxy_headers" yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
}

// sweepInterval is how often Allow drops idle clients.
const sweepInterval = time.Minute

// Enabled reports whether any limit is set.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.RequestsPerHour > 0 || c.RequestsPerDay > 0 || c.MaxBytesPerDay > 0
}

// window counts events in a fixed interval that starts with its first event.
type window struct {
	start time.Time
	count int
}

func (w *window) roll(now time.Time, size time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= size {
		w.start = now
		w.count = 0
	}
}

func (w *window) retryAfter(now time.Time, size time.Duration) time.Duration {
	return max(0, size-now.Sub(w.start))
}

type clientUsage struct {
	minute, hour window
	day          time.Time // local midnight the daily counters belong to
	requestsDay  int
	bytesDay     int64
	last         time.Time // most recent Allow call
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	RequestsLastMinute int
	RequestsLastHour   int
	RequestsToday      int
	BytesToday         int64
}

// RateLimiter tracks per-client request rates and daily quotas.
type RateLimiter struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	now       func() time.Time
	clients   map[string]*clientUsage
	lastSweep time.Time
}

// NewRateLimiter creates a limiter for cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, now: time.Now, clients: make(map[string]*clientUsage)}
}

// retention is how long a client may stay idle before its entry carries
// nothing a fresh entry would not. Counters of disabled limits are ignored.
func (rl *RateLimiter) retention() time.Duration {
	switch {
	case rl.cfg.RequestsPerDay > 0 || rl.cfg.MaxBytesPerDay > 0:
		return 24 * time.Hour
	case rl.cfg.RequestsPerHour > 0:
		return time.Hour
	default:
		return time.Minute
	}
}

// sweep drops idle clients. The caller holds rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepInterval {
		return
	}
	rl.lastSweep = now
	idle := rl.retention()
	for client, u := range rl.clients {
		if now.Sub(u.last) >= idle {
			delete(rl.clients, client)
		}
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Allow records a request of dataSize bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{}
		rl.clients[client] = u
	}
	u.last = now

	u.minute.roll(now, time.Minute)
	u.hour.roll(now, time.Hour)
	if today := midnight(now); !u.day.Equal(today) {
		u.day = today
		u.requestsDay = 0
		u.bytesDay = 0
	}

	if lim := rl.cfg.RequestsPerMinute; lim > 0 && u.minute.count >= lim {
		return &RateLimitError{Type: "minute", Limit: lim, RetryAfter: u.minute.retryAfter(now, time.Minute)}
	}
	if lim := rl.cfg.RequestsPerHour; lim > 0 && u.hour.count >= lim {
		return &RateLimitError{Type: "hour", Limit: lim, RetryAfter: u.hour.retryAfter(now, time.Hour)}
	}

	resets := u.day.AddDate(0, 0, 1)
	if lim := rl.cfg.RequestsPerDay; lim > 0 && u.requestsDay >= lim {
		return &QuotaExceededError{Type: "requests", Limit: int64(lim), Used: int64(u.requestsDay), Resets: resets}
	}
	if lim := rl.cfg.MaxBytesPerDay; lim > 0 && u.bytesDay+dataSize > lim {
		return &QuotaExceededError{Type: "data", Limit: lim, Used: u.bytesDay, Resets: resets}
	}

	u.minute.count++
	u.hour.count++
	u.requestsDay++
	u.bytesDay += dataSize
	return nil
}

// Usage returns the counters recorded for client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	return Usage{
		RequestsLastMinute: u.minute.count,
		RequestsLastHour:   u.hour.count,
		RequestsToday:      u.requestsDay,
		BytesToday:         u.bytesDay,
	}
}

// RateLimitError reports an exceeded request rate.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError reports an exhausted daily quota.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
