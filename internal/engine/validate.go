package engine

import (
	"fmt"
	"strings"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// ValidateRule checks a rule before it is persisted. The executor re-checks
// action bounds at execution time; conditions are only validated here since
// the evaluator rejects malformed trees itself.
func ValidateRule(r *models.Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}
	if err := validateCondition(r.Conditions, 0); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	return ValidateActions(r.Actions)
}

func validateCondition(c models.Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("tree exceeds max depth %d", maxConditionDepth)
	}
	if c.IsLeaf() {
		switch c.Type {
		case models.ConditionMetric:
			if _, err := metricField(models.DeviceMetrics{}, c.Field); err != nil {
				return err
			}
			switch c.Op {
			case ">", "<", ">=", "<=", "==", "between":
			default:
				return fmt.Errorf("unknown metric operator %q", c.Op)
			}
		case models.ConditionTime:
			if c.Op != "between" && c.Op != "equals" {
				return fmt.Errorf("unknown time operator %q", c.Op)
			}
		case models.ConditionDayOfWeek:
			if c.Op != "in" && c.Op != "notIn" {
				return fmt.Errorf("unknown dayOfWeek operator %q", c.Op)
			}
		case models.ConditionEvent:
			switch c.EventType {
			case models.EventError, models.EventOffline, models.EventOnline,
				models.EventLowBattery, models.EventFullBattery:
			default:
				return fmt.Errorf("unknown event type %q", c.EventType)
			}
		default:
			return fmt.Errorf("unknown condition type %q", c.Type)
		}
		if c.Type != models.ConditionEvent && len(c.Value) == 0 {
			return fmt.Errorf("%s condition is missing a value", c.Type)
		}
		return nil
	}
	if c.Operator != models.OperatorAnd && c.Operator != models.OperatorOr {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	// An empty AND would vacuously match every cycle.
	if len(c.Conditions) == 0 {
		return fmt.Errorf("%s group must have at least one condition", c.Operator)
	}
	for _, child := range c.Conditions {
		if err := validateCondition(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// ValidateActions checks every action's shape and bounds.
func ValidateActions(actions []models.Action) error {
	for i, a := range actions {
		if err := ValidateAction(a); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// ValidateAction checks one action's type-specific parameter bounds.
func ValidateAction(a models.Action) error {
	switch a.Type {
	case models.ActionSetAcOutput, models.ActionSetDcOutput:
		if a.Enabled == nil {
			return fmt.Errorf("%s requires an enabled flag", a.Type)
		}
	case models.ActionSetChargingPower:
		if a.Watts == nil {
			return fmt.Errorf("setChargingPower requires watts")
		}
		if *a.Watts < models.MinChargingPowerWatts || *a.Watts > models.MaxChargingPowerWatts {
			return fmt.Errorf("charging power %d out of range [%d, %d]",
				*a.Watts, models.MinChargingPowerWatts, models.MaxChargingPowerWatts)
		}
	case models.ActionSetMaxChargeSoc:
		if a.Percent == nil {
			return fmt.Errorf("setMaxChargeSoc requires percent")
		}
		if *a.Percent < models.MinMaxChargeSoc || *a.Percent > models.MaxMaxChargeSoc {
			return fmt.Errorf("max charge SOC %d out of range [%d, %d]",
				*a.Percent, models.MinMaxChargeSoc, models.MaxMaxChargeSoc)
		}
	case models.ActionSetMinDischargeSoc:
		if a.Percent == nil {
			return fmt.Errorf("setMinDischargeSoc requires percent")
		}
		if *a.Percent < models.MinMinDischargeSoc || *a.Percent > models.MaxMinDischargeSoc {
			return fmt.Errorf("min discharge SOC %d out of range [%d, %d]",
				*a.Percent, models.MinMinDischargeSoc, models.MaxMinDischargeSoc)
		}
	case models.ActionSendNotification:
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("notification message must not be empty")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
