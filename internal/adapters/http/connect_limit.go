package http

import (
	"sync"
	"time"

	"github.com/dkeye/Viewer/internal/domain"
)

type connectKey struct {
	client  string
	variant domain.Variant
}

// ConnectLimiter caps connect attempts per browser and variant, so retrying
// a failing live session never locks the same client out of its test one.
type ConnectLimiter struct {
	mu       sync.Mutex
	attempts map[connectKey][]time.Time
	burst    int
	window   time.Duration
	now      func() time.Time
}

func NewConnectLimiter(burst int, window time.Duration) *ConnectLimiter {
	return &ConnectLimiter{
		attempts: make(map[connectKey][]time.Time),
		burst:    burst,
		window:   window,
		now:      time.Now,
	}
}

// Allow records an attempt. When the burst is used up it returns false and
// how long until the oldest attempt leaves the window.
func (l *ConnectLimiter) Allow(client string, variant domain.Variant) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	key := connectKey{client: client, variant: variant}
	recent := l.attempts[key]
	if len(recent) >= l.burst {
		return false, recent[0].Add(l.window).Sub(now)
	}
	l.attempts[key] = append(recent, now)
	return true, 0
}

// prune drops attempts older than the window and forgets idle keys.
func (l *ConnectLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, times := range l.attempts {
		i := 0
		for i < len(times) && !times[i].After(cutoff) {
			i++
		}
		if i == len(times) {
			delete(l.attempts, key)
			continue
		}
		l.attempts[key] = times[i:]
	}
}

// Tracked reports how many client/variant pairs hold recent attempts.
func (l *ConnectLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
