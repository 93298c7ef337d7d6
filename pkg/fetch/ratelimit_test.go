package fetch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestRateLimiter(defaultDelay time.Duration) *RateLimiter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRateLimiter(defaultDelay, logger.WithField("component", "ratelimit"))
}

func TestApplyDelay_FirstRequestIsImmediate(t *testing.T) {
	rl := newTestRateLimiter(5 * time.Second)

	start := time.Now()
	rl.ApplyDelay(context.Background(), "example.com")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("ApplyDelay on first request took %v, expected instant return", elapsed)
	}
}

func TestApplyDelay_SleepsForDefaultDelay(t *testing.T) {
	rl := newTestRateLimiter(100 * time.Millisecond)
	rl.UpdateLastRequestTime("example.com")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "example.com")
	elapsed := time.Since(start)

	// Allow for jitter (+/- 10%) and timer imprecision
	if elapsed < 50*time.Millisecond {
		t.Errorf("ApplyDelay returned too quickly: %v, expected ~100ms", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("ApplyDelay took too long: %v, expected ~100ms", elapsed)
	}
}

func TestApplyDelay_RespectsContextCancellation(t *testing.T) {
	rl := newTestRateLimiter(5 * time.Second)
	rl.UpdateLastRequestTime("example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // pre-cancel

	start := time.Now()
	rl.ApplyDelay(ctx, "example.com")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("ApplyDelay with cancelled context took %v, expected <100ms", elapsed)
	}
}

func TestApplyDelay_ZeroDelayDisablesPacing(t *testing.T) {
	rl := newTestRateLimiter(0)
	rl.UpdateLastRequestTime("example.com")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "example.com")
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("ApplyDelay with zero default delay took %v, expected instant return", elapsed)
	}
}

func TestApplyDelay_HostsAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(5 * time.Second)
	rl.UpdateLastRequestTime("a.example.com")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "b.example.com")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("ApplyDelay for an unseen host took %v, expected instant return", elapsed)
	}
}

func TestSetHostFloor_OverridesDefault(t *testing.T) {
	rl := newTestRateLimiter(0)
	rl.SetHostFloor("example.com", 100*time.Millisecond)
	rl.UpdateLastRequestTime("example.com")

	start := time.Now()
	rl.ApplyDelay(context.Background(), "example.com")
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("ApplyDelay ignored the host floor, returned after %v", elapsed)
	}
}

func TestSetHostFloor_StrictestWins(t *testing.T) {
	rl := newTestRateLimiter(0)
	rl.SetHostFloor("example.com", 200*time.Millisecond)
	rl.SetHostFloor("example.com", 50*time.Millisecond) // lower, must not shrink the floor

	rl.mu.Lock()
	floor := rl.floors["example.com"]
	rl.mu.Unlock()
	if floor != 200*time.Millisecond {
		t.Errorf("floor = %v, want 200ms", floor)
	}
}
