// Package reconcile merges authoritative server snapshots into client-held
// device state while honoring commands the user issued moments ago.
package reconcile

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"
)

// DefaultTTL is how long an optimistic value shields a field from stale
// server echoes before the client falls back to server truth.
const DefaultTTL = 10 * time.Second

// PendingCommand records one optimistic write awaiting confirmation.
type PendingCommand struct {
	Field     string
	Value     any
	ExpiresAt time.Time
}

// Reconciler owns per-device UI state and the pending-command ledger.
// TTL expiry is checked lazily at merge time; there is no background timer.
type Reconciler struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	state   map[string]map[string]any
	pending map[string]map[string]PendingCommand
}

func New(ttl time.Duration) *Reconciler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reconciler{
		ttl:     ttl,
		now:     time.Now,
		state:   make(map[string]map[string]any),
		pending: make(map[string]map[string]PendingCommand),
	}
}

// ApplyLocal applies a user-issued command optimistically and records it in
// the ledger. A new command for the same field replaces any prior pending
// entry, it does not stack.
func (r *Reconciler) ApplyLocal(deviceSN, field string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deviceState(deviceSN)[field] = value
	if r.pending[deviceSN] == nil {
		r.pending[deviceSN] = make(map[string]PendingCommand)
	}
	r.pending[deviceSN][field] = PendingCommand{
		Field:     field,
		Value:     value,
		ExpiresAt: r.now().Add(r.ttl),
	}
}

// MergeServerUpdate folds an authoritative snapshot into the device state.
// Per field: a pending entry whose value the server echoes back is
// confirmed and removed; a pending entry the server contradicts suppresses
// that one field; fields with no pending entry are accepted as-is.
func (r *Reconciler) MergeServerUpdate(deviceSN string, serverFields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeExpired(deviceSN)
	state := r.deviceState(deviceSN)
	for field, serverValue := range serverFields {
		if cmd, ok := r.pending[deviceSN][field]; ok {
			if equalValue(cmd.Value, serverValue) {
				delete(r.pending[deviceSN], field)
				state[field] = serverValue
			}
			// Otherwise the server has not caught up; keep the
			// optimistic value until confirmation or TTL expiry.
			continue
		}
		state[field] = serverValue
	}
}

// Get returns one field of the device's merged state.
func (r *Reconciler) Get(deviceSN, field string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state[deviceSN][field]
	return v, ok
}

// State returns a copy of the device's merged state.
func (r *Reconciler) State(deviceSN string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.state[deviceSN]))
	for k, v := range r.state[deviceSN] {
		out[k] = v
	}
	return out
}

// PendingFields returns the fields currently shielded for a device.
func (r *Reconciler) PendingFields(deviceSN string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeExpired(deviceSN)
	fields := make([]string, 0, len(r.pending[deviceSN]))
	for f := range r.pending[deviceSN] {
		fields = append(fields, f)
	}
	return fields
}

// equalValue compares a command value against a server echo. Server fields
// arrive JSON-decoded, so every number is a float64; commands applied
// locally may carry int values. Numbers compare by value across types.
func equalValue(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (r *Reconciler) deviceState(deviceSN string) map[string]any {
	if r.state[deviceSN] == nil {
		r.state[deviceSN] = make(map[string]any)
	}
	return r.state[deviceSN]
}

func (r *Reconciler) purgeExpired(deviceSN string) {
	now := r.now()
	for field, cmd := range r.pending[deviceSN] {
		if now.After(cmd.ExpiresAt) {
			delete(r.pending[deviceSN], field)
		}
	}
}
