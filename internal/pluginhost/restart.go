package pluginhost

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// restartTracker enforces the restart policy: up to MaxRestarts attempts
// within a sliding WindowSecs window, with exponential back-off between
// attempts. The interval sequence comes from cenkalti/backoff/v4's
// ExponentialBackOff; the attempt-count/window cap is hand-rolled on top
// since backoff/v4 only bounds elapsed time or retry count, not both at
// once.
type restartTracker struct {
	mu       sync.Mutex
	policy   RestartPolicy
	attempts []time.Time
	backoff  *backoff.ExponentialBackOff
}

func newRestartTracker(policy RestartPolicy) *restartTracker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.MaxInterval = policy.MaxBackoff
	b.Multiplier = policy.BackoffMultiplier
	b.MaxElapsedTime = 0 // the window/count cap below governs exhaustion, not elapsed time
	b.Reset()
	return &restartTracker{policy: policy, backoff: b}
}

// next returns the delay before the next restart attempt, or ok=false if
// the policy is exhausted (≥ MaxRestarts attempts within WindowSecs).
func (t *restartTracker) next(now time.Time) (delay time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := time.Duration(t.policy.WindowSecs) * time.Second
	cutoff := now.Add(-window)
	kept := t.attempts[:0]
	for _, at := range t.attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.attempts = kept

	if len(t.attempts) >= t.policy.MaxRestarts {
		return 0, false
	}
	t.attempts = append(t.attempts, now)
	return t.backoff.NextBackOff(), true
}

// reset clears attempt history and backoff state after a successful,
// sustained run (called when a passing health probe confirms the plugin is
// serving).
func (t *restartTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = nil
	t.backoff.Reset()
}

// exhausted reports whether the policy is currently exhausted (≥
// MaxRestarts attempts within the window) without consuming an attempt
// slot, for read-only callers like CallUnary deciding which error to
// surface.
func (t *restartTracker) exhausted(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := time.Duration(t.policy.WindowSecs) * time.Second
	cutoff := now.Add(-window)
	count := 0
	for _, at := range t.attempts {
		if at.After(cutoff) {
			count++
		}
	}
	return count >= t.policy.MaxRestarts
}
