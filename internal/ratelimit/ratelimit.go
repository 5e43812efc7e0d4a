// Package ratelimit implements a fixed-window request throttle keyed by
// client IP and route path. Counters live in process memory only: the table
// is a best-effort throttle, not a durable ledger, and is lost on restart.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Policy describes one rate-limit class: at most Max requests per Window.
type Policy struct {
	Window time.Duration
	Max    int
}

// Result is the limiter's verdict for a single request.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds until the window resets; only set when rejected
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per (ip, path) key within fixed windows. It is
// safe for concurrent use. The clock is injected so tests can simulate
// window expiry without sleeping.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	stop    chan struct{}
}

// New creates a Limiter. A nil clock defaults to time.Now.
func New(clock func() time.Time) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		entries: make(map[string]*entry),
		now:     clock,
	}
}

// Check records one request for (ip, path) under the given policy and
// returns the verdict. The first request of a window (or any request after
// the previous window expired) resets the counter to 1 and is allowed.
func (l *Limiter) Check(ip, path string, p Policy) Result {
	key := ip + ":" + path
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(p.Window)}
		return Result{Allowed: true, Remaining: p.Max - 1}
	}

	e.count++
	if e.count > p.Max {
		retry := e.resetAt.Sub(now)
		// Round up so a client that waits RetryAfter seconds lands in
		// the next window.
		seconds := int((retry + time.Second - 1) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return Result{Allowed: false, RetryAfter: seconds}
	}
	return Result{Allowed: true, Remaining: p.Max - e.count}
}

// Len returns the number of tracked keys. Exposed for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Start launches a background sweep that drops expired entries every
// interval, bounding memory growth. It is cleanup only; Check never depends
// on it for correctness. Call Stop to terminate the goroutine.
func (l *Limiter) Start(interval time.Duration) {
	l.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep started by Start.
func (l *Limiter) Stop() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// Sweep drops every entry whose window has expired.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, key)
		}
	}
}

// ClientIP extracts the client address from proxy headers, in precedence
// order: first hop of X-Forwarded-For, then X-Real-IP, then
// CF-Connecting-IP. Requests with none of them count under "unknown".
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	return "unknown"
}
