package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces requests per host. Compares sharing the limiter share
// its pacing: the host does not care which compare is probing it.
type RateLimiter struct {
	mu           sync.Mutex
	lastAttempt  map[string]time.Time     // hostname -> last request attempt
	floors       map[string]time.Duration // per-host minimum delay overrides
	defaultDelay time.Duration
	log          *logrus.Entry
}

// NewRateLimiter creates a RateLimiter enforcing defaultDelay between
// requests to the same host.
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		lastAttempt:  make(map[string]time.Time),
		floors:       make(map[string]time.Duration),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// SetHostFloor raises the minimum delay for one host. Values below the
// current floor are ignored; with several compares on one host the strictest
// delay applies.
func (rl *RateLimiter) SetHostFloor(host string, delay time.Duration) {
	if host == "" || delay <= 0 {
		return
	}
	rl.mu.Lock()
	if delay > rl.floors[host] {
		rl.floors[host] = delay
	}
	rl.mu.Unlock()
}

// ApplyDelay sleeps until the host's delay window has passed, with +/- 10%
// jitter to desynchronize bursts. Returns early when ctx is cancelled.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string) {
	rl.mu.Lock()
	delay := rl.floors[host]
	last, known := rl.lastAttempt[host]
	rl.mu.Unlock()

	if delay <= 0 {
		delay = rl.defaultDelay
	}
	if delay <= 0 || !known {
		return
	}

	remaining := delay - time.Since(last)
	if remaining <= 0 {
		return
	}
	if jitterRange := int64(remaining) / 5; jitterRange > 0 {
		remaining += time.Duration(rand.Int63n(jitterRange)) - remaining/10
	}
	if remaining <= 0 {
		return
	}

	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": remaining, "required_delay": delay,
	}).Debug("Rate limit applying sleep")
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		rl.log.WithField("host", host).Debug("Rate limit sleep cut short by context")
	}
}

// UpdateLastRequestTime records the current time as the host's last request
// attempt. Call it after the attempt so the delay spans request starts.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	rl.mu.Lock()
	rl.lastAttempt[host] = time.Now()
	rl.mu.Unlock()
}
