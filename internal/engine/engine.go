// Package engine evaluates automation rules against normalized device
// telemetry and dispatches their actions. Storage, vendor transport and
// notification delivery are reached only through the interfaces below.
package engine

import (
	"context"
	"time"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// RuleStore is the engine's read view of persisted rules.
type RuleStore interface {
	// GetApplicableRules returns enabled rules scoped to deviceSN plus
	// device-unscoped rules, in the store's priority order.
	GetApplicableRules(ctx context.Context, deviceSN string) ([]models.Rule, error)
	GetRuleByID(ctx context.Context, id string) (*models.Rule, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// LogSink receives append-only execution records.
type LogSink interface {
	AppendExecutionLog(ctx context.Context, rec *models.ExecutionLog) error
}

// DeviceController issues control commands to a device. Each call is a
// blocking remote call failing with a transport error on non-success.
type DeviceController interface {
	SetAcOutput(ctx context.Context, deviceSN string, enabled bool) error
	SetDcOutput(ctx context.Context, deviceSN string, enabled bool) error
	SetChargingPower(ctx context.Context, deviceSN string, watts int) error
	SetMaxChargeSoc(ctx context.Context, deviceSN string, percent int) error
	SetMinDischargeSoc(ctx context.Context, deviceSN string, percent int) error
}

// Notifier delivers a chat notification. An unconfigured notifier is a
// documented no-op, not an error.
type Notifier interface {
	Send(ctx context.Context, message string) error
}
