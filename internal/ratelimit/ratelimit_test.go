package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

// fakeClock advances only when told to, so window expiry is deterministic.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(clock.now), clock
}

func TestCheckAllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter()
	policy := Policy{Window: time.Minute, Max: 5}

	for i := 1; i <= 5; i++ {
		res := l.Check("1.2.3.4", "/api/v1/auth/login", policy)
		if !res.Allowed {
			t.Fatalf("request %d: rejected, want allowed", i)
		}
	}

	res := l.Check("1.2.3.4", "/api/v1/auth/login", policy)
	if res.Allowed {
		t.Fatal("6th request: allowed, want rejected")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %d, want > 0", res.RetryAfter)
	}
}

func TestCheckResetsAfterWindow(t *testing.T) {
	l, clock := newTestLimiter()
	policy := Policy{Window: time.Minute, Max: 2}

	l.Check("1.2.3.4", "/x", policy)
	l.Check("1.2.3.4", "/x", policy)
	if res := l.Check("1.2.3.4", "/x", policy); res.Allowed {
		t.Fatal("3rd request in window: allowed, want rejected")
	}

	clock.advance(61 * time.Second)

	res := l.Check("1.2.3.4", "/x", policy)
	if !res.Allowed {
		t.Fatal("request after window elapsed: rejected, want allowed")
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1 (counter reset)", res.Remaining)
	}
}

func TestCheckKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	policy := Policy{Window: time.Minute, Max: 1}

	l.Check("1.2.3.4", "/x", policy)
	if res := l.Check("1.2.3.4", "/x", policy); res.Allowed {
		t.Error("same ip+path: allowed, want rejected")
	}
	if res := l.Check("5.6.7.8", "/x", policy); !res.Allowed {
		t.Error("different ip: rejected, want allowed")
	}
	if res := l.Check("1.2.3.4", "/y", policy); !res.Allowed {
		t.Error("different path: rejected, want allowed")
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	l, clock := newTestLimiter()
	policy := Policy{Window: time.Minute, Max: 1}

	l.Check("1.2.3.4", "/x", policy)
	clock.advance(59*time.Second + 500*time.Millisecond)

	res := l.Check("1.2.3.4", "/x", policy)
	if res.Allowed {
		t.Fatal("expected rejection inside window")
	}
	if res.RetryAfter != 1 {
		t.Errorf("RetryAfter = %d, want 1 (500ms rounds up)", res.RetryAfter)
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	l, clock := newTestLimiter()
	policy := Policy{Window: time.Minute, Max: 5}

	l.Check("1.2.3.4", "/a", policy)
	l.Check("1.2.3.4", "/b", policy)
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}

	clock.advance(2 * time.Minute)
	l.Check("9.9.9.9", "/c", policy) // fresh entry, must survive the sweep
	l.Sweep()

	if l.Len() != 1 {
		t.Errorf("Len after sweep = %d, want 1", l.Len())
	}
}

func TestClientIPPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"forwarded beats real ip", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.2"}, "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "192.0.2.33"}, "192.0.2.33"},
		{"none", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
