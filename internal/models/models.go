package models

import (
	"encoding/json"
	"time"
)

// Condition operators for compound nodes.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// Leaf condition types.
const (
	ConditionMetric    = "metric"
	ConditionTime      = "time"
	ConditionDayOfWeek = "dayOfWeek"
	ConditionEvent     = "event"
)

// Event types for event conditions.
const (
	EventError       = "error"
	EventOffline     = "offline"
	EventOnline      = "online"
	EventLowBattery  = "lowBattery"
	EventFullBattery = "fullBattery"
)

// Condition is one node of a rule's condition tree. A node with a non-empty
// Operator is a compound AND/OR node over Conditions; otherwise it is a leaf
// discriminated by Type.
type Condition struct {
	Operator   string      `json:"operator,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`

	Type      string          `json:"type,omitempty"`
	Field     string          `json:"field,omitempty"`     // metric leaves
	Op        string          `json:"op,omitempty"`        // >, <, >=, <=, ==, between, equals, in, notIn
	Value     json.RawMessage `json:"value,omitempty"`     // number, [low,high], "HH:MM", ["HH:MM","HH:MM"], [weekday...]
	EventType string          `json:"eventType,omitempty"` // event leaves
}

// IsLeaf reports whether the node is a leaf condition.
func (c Condition) IsLeaf() bool {
	return c.Operator == ""
}

// Action types.
const (
	ActionSetAcOutput        = "setAcOutput"
	ActionSetDcOutput        = "setDcOutput"
	ActionSetChargingPower   = "setChargingPower"
	ActionSetMaxChargeSoc    = "setMaxChargeSoc"
	ActionSetMinDischargeSoc = "setMinDischargeSoc"
	ActionSendNotification   = "sendNotification"
)

// Parameter bounds enforced at save time and again at execution time.
const (
	MinChargingPowerWatts = 200
	MaxChargingPowerWatts = 2900
	MinMaxChargeSoc       = 50
	MaxMaxChargeSoc       = 100
	MinMinDischargeSoc    = 0
	MaxMinDischargeSoc    = 30
)

// Action is one entry of a rule's ordered action list, discriminated by Type.
// Exactly one parameter field is meaningful per type.
type Action struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"` // setAcOutput, setDcOutput
	Watts   *int   `json:"watts,omitempty"`   // setChargingPower
	Percent *int   `json:"percent,omitempty"` // setMaxChargeSoc, setMinDischargeSoc
	Message string `json:"message,omitempty"` // sendNotification
}

// Rule is one automation rule. The engine treats rules as read-only except
// for LastTriggeredAt.
type Rule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	DeviceSN        string     `json:"device_sn,omitempty"` // empty = applies to all devices
	Enabled         bool       `json:"enabled"`
	Conditions      Condition  `json:"conditions"`
	Actions         []Action   `json:"actions"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// DeviceMetrics is one normalized telemetry snapshot. TotalInputWatts and
// TotalOutputWatts are always derived from their constituent channels.
type DeviceMetrics struct {
	DeviceSN         string    `json:"device_sn"`
	Online           bool      `json:"online"`
	SOC              float64   `json:"soc"`
	Temperature      float64   `json:"temperature"`
	ACInputWatts     float64   `json:"ac_input_watts"`
	SolarInputWatts  float64   `json:"solar_input_watts"`
	ACOutputWatts    float64   `json:"ac_output_watts"`
	DCOutputWatts    float64   `json:"dc_output_watts"`
	TotalInputWatts  float64   `json:"total_input_watts"`
	TotalOutputWatts float64   `json:"total_output_watts"`
	HasError         bool      `json:"has_error"`
	ErrorCodes       []int     `json:"error_codes,omitempty"`
	CollectedAt      time.Time `json:"collected_at"`
}

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	Action   Action `json:"action"`
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ExecutionLog is one append-only record per rule trigger.
type ExecutionLog struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	RuleName      string         `json:"rule_name"`
	DeviceSN      string         `json:"device_sn"`
	MatchedPaths  []string       `json:"matched_paths,omitempty"`
	FailedPaths   []string       `json:"failed_paths,omitempty"`
	ActionResults []ActionResult `json:"action_results"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `json:"created_at"`
}
