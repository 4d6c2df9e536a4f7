package authapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// evaluateWindowThrottle reports whether events (any order) already hold
// limit entries inside the window ending at now, and how long until the
// oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, events []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}

	cut := now.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, t := range events {
		if !t.After(cut) {
			continue
		}
		count++
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	if count < limit {
		return false, 0
	}

	retry := oldest.Add(window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return true, retry
}

// ipLimiter is a per-key sliding-window limiter.
type ipLimiter struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records an event for key at now unless the key is over its limit.
// A nil limiter or a non-positive limit allows everything.
func (l *ipLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	cut := now.Add(-l.window)
	dst := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if blocked, retry := evaluateWindowThrottle(now, dst, l.limit, l.window); blocked {
		l.events[key] = dst
		return false, retry
	}
	l.events[key] = append(dst, now)
	return true, 0
}

// sweepLocked drops idle keys once per window to bound memory.
func (l *ipLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	cut := now.Add(-l.window)
	for k, ev := range l.events {
		if len(ev) == 0 || !ev[len(ev)-1].After(cut) {
			delete(l.events, k)
		}
	}
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		// Rounded up: a client waiting the advertised seconds must not be refused again.
		secs := int64(math.Ceil(retryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many attempts")
}
