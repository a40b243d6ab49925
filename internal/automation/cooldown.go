package automation

import (
	"context"
	"sync"
	"time"
)

// CooldownTracker is the per-rule check-and-reserve store.
//
// TryReserve records now as the rule's last trigger time and returns true
// iff the rule has never triggered or at least cooldownMinutes have passed.
// Otherwise it returns false and changes nothing. A cooldown of zero always
// reserves. At most one reservation per window succeeds, even under
// concurrent calls for the same rule. The stored time never moves backwards.
//
// Observe seeds the tracker with a persisted trigger time. It only advances.
//
// An error from either method is a storage failure.
type CooldownTracker interface {
	TryReserve(ctx context.Context, ruleID string, now time.Time, cooldownMinutes int) (bool, error)
	Observe(ctx context.Context, ruleID string, lastTriggered time.Time) error
}

// CooldownForgetter is implemented by trackers that can drop a rule's
// state. Registry.DeleteRule uses it when configured.
type CooldownForgetter interface {
	Forget(ctx context.Context, ruleID string) error
}

// MemoryCooldownTracker keeps reservations in process memory.
// Use RedisCooldownTracker when several processes serve the same racks.
type MemoryCooldownTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryCooldownTracker returns an empty tracker.
func NewMemoryCooldownTracker() *MemoryCooldownTracker {
	return &MemoryCooldownTracker{last: make(map[string]time.Time)}
}

// TryReserve implements CooldownTracker.
func (t *MemoryCooldownTracker) TryReserve(_ context.Context, ruleID string, now time.Time, cooldownMinutes int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.last[ruleID]
	if seen && cooldownMinutes > 0 && now.Sub(last) < time.Duration(cooldownMinutes)*time.Minute {
		return false, nil
	}
	if !seen || now.After(last) {
		t.last[ruleID] = now
	}
	return true, nil
}

// Observe implements CooldownTracker.
func (t *MemoryCooldownTracker) Observe(_ context.Context, ruleID string, lastTriggered time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, seen := t.last[ruleID]; !seen || lastTriggered.After(last) {
		t.last[ruleID] = lastTriggered
	}
	return nil
}

// LastTriggered returns the recorded time for ruleID, if any.
func (t *MemoryCooldownTracker) LastTriggered(ruleID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[ruleID]
	return last, ok
}

// Forget implements CooldownForgetter.
func (t *MemoryCooldownTracker) Forget(_ context.Context, ruleID string) error {
	t.mu.Lock()
	delete(t.last, ruleID)
	t.mu.Unlock()
	return nil
}
