package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReconciler(ttl time.Duration) (*Reconciler, *clock) {
	c := &clock{t: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	r := New(ttl)
	r.now = c.now
	return r, c
}

func TestApplyLocalIsOptimistic(t *testing.T) {
	r, _ := newTestReconciler(DefaultTTL)

	r.ApplyLocal("dev-a", "acOutEnabled", true)

	v, ok := r.Get("dev-a", "acOutEnabled")
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.Equal(t, []string{"acOutEnabled"}, r.PendingFields("dev-a"))
}

func TestStaleEchoSuppressedUntilConfirmation(t *testing.T) {
	r, c := newTestReconciler(10 * time.Second)

	r.ApplyLocal("dev-a", "acOutEnabled", true)

	// Two seconds later the server echoes the pre-command value. The
	// optimistic value must hold.
	c.advance(2 * time.Second)
	r.MergeServerUpdate("dev-a", map[string]any{"acOutEnabled": false, "soc": 80.0})

	v, _ := r.Get("dev-a", "acOutEnabled")
	assert.Equal(t, true, v, "stale echo must not revert the optimistic value")
	soc, _ := r.Get("dev-a", "soc")
	assert.Equal(t, 80.0, soc, "unshielded fields are accepted as-is")

	// Three seconds after that the server catches up: confirmed, shield off.
	c.advance(3 * time.Second)
	r.MergeServerUpdate("dev-a", map[string]any{"acOutEnabled": true})

	v, _ = r.Get("dev-a", "acOutEnabled")
	assert.Equal(t, true, v)
	assert.Empty(t, r.PendingFields("dev-a"))

	// With the shield gone, a later server flip is accepted.
	r.MergeServerUpdate("dev-a", map[string]any{"acOutEnabled": false})
	v, _ = r.Get("dev-a", "acOutEnabled")
	assert.Equal(t, false, v)
}

func TestPendingExpiresAfterTTL(t *testing.T) {
	r, c := newTestReconciler(10 * time.Second)

	r.ApplyLocal("dev-a", "acOutEnabled", true)

	c.advance(11 * time.Second)
	r.MergeServerUpdate("dev-a", map[string]any{"acOutEnabled": false})

	v, _ := r.Get("dev-a", "acOutEnabled")
	assert.Equal(t, false, v, "after TTL the command is presumed lost, server wins")
	assert.Empty(t, r.PendingFields("dev-a"))
}

func TestReissuedCommandReplacesPending(t *testing.T) {
	r, c := newTestReconciler(10 * time.Second)

	r.ApplyLocal("dev-a", "chargingPower", 800)
	c.advance(8 * time.Second)
	r.ApplyLocal("dev-a", "chargingPower", 1200)

	// The second command carries its own full TTL; the first one's
	// deadline is gone.
	c.advance(5 * time.Second)
	r.MergeServerUpdate("dev-a", map[string]any{"chargingPower": 800})

	v, _ := r.Get("dev-a", "chargingPower")
	assert.Equal(t, 1200, v, "server confirming the superseded value must not win")
	assert.Equal(t, []string{"chargingPower"}, r.PendingFields("dev-a"))

	r.MergeServerUpdate("dev-a", map[string]any{"chargingPower": 1200})
	v, _ = r.Get("dev-a", "chargingPower")
	assert.Equal(t, 1200, v)
	assert.Empty(t, r.PendingFields("dev-a"))
}

func TestConfirmationBridgesNumericTypes(t *testing.T) {
	r, _ := newTestReconciler(10 * time.Second)

	// Commands carry Go ints; server echoes arrive JSON-decoded as float64.
	// The echo must still confirm, not shadow the field until TTL expiry.
	r.ApplyLocal("dev-a", "chargingPower", 1200)
	r.MergeServerUpdate("dev-a", map[string]any{"chargingPower": 1200.0})

	assert.Empty(t, r.PendingFields("dev-a"))
	v, _ := r.Get("dev-a", "chargingPower")
	assert.Equal(t, 1200.0, v)

	// Non-numeric values still compare structurally.
	r.ApplyLocal("dev-a", "mode", "eco")
	r.MergeServerUpdate("dev-a", map[string]any{"mode": "eco"})
	assert.Empty(t, r.PendingFields("dev-a"))
}

func TestSuppressionIsPerField(t *testing.T) {
	r, _ := newTestReconciler(10 * time.Second)

	r.ApplyLocal("dev-a", "acOutEnabled", true)
	r.MergeServerUpdate("dev-a", map[string]any{
		"acOutEnabled": false,
		"soc":          55.0,
		"dcOutEnabled": true,
	})

	state := r.State("dev-a")
	assert.Equal(t, true, state["acOutEnabled"])
	assert.Equal(t, 55.0, state["soc"])
	assert.Equal(t, true, state["dcOutEnabled"])
}

func TestDevicesAreIndependent(t *testing.T) {
	r, _ := newTestReconciler(10 * time.Second)

	r.ApplyLocal("dev-a", "acOutEnabled", true)
	r.MergeServerUpdate("dev-b", map[string]any{"acOutEnabled": false})

	vb, _ := r.Get("dev-b", "acOutEnabled")
	assert.Equal(t, false, vb)
	assert.Empty(t, r.PendingFields("dev-b"))
	assert.Equal(t, []string{"acOutEnabled"}, r.PendingFields("dev-a"))
}

func TestZeroTTLFallsBackToDefault(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultTTL, r.ttl)
}
