package engine

import (
	"sync"
	"time"
)

// CooldownTracker keeps the last trigger time per rule. State lives only in
// memory; a restart resets all cooldowns, which is acceptable for a soft
// rate-limit.
type CooldownTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{last: make(map[string]time.Time)}
}

// InCooldown reports whether ruleID triggered less than cooldown ago.
func (t *CooldownTracker) InCooldown(ruleID string, cooldown time.Duration, now time.Time) bool {
	return t.Remaining(ruleID, cooldown, now) > 0
}

// RecordTrigger stores now as the rule's last trigger time.
func (t *CooldownTracker) RecordTrigger(ruleID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[ruleID] = now
}

// Remaining returns how long until the rule may fire again, or 0.
func (t *CooldownTracker) Remaining(ruleID string, cooldown time.Duration, now time.Time) time.Duration {
	if cooldown <= 0 {
		return 0
	}
	t.mu.Lock()
	last, ok := t.last[ruleID]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	remaining := cooldown - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear forgets the rule's last trigger time.
func (t *CooldownTracker) Clear(ruleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, ruleID)
}

// ClearAll forgets every rule's last trigger time.
func (t *CooldownTracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]time.Time)
}
