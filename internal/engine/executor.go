package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// defaultActionTimeout bounds each effector call.
const defaultActionTimeout = 10 * time.Second

// Executor dispatches rule actions to the device controller and notifier.
type Executor struct {
	controller DeviceController
	notifier   Notifier
	timeout    time.Duration
	log        *logrus.Entry
}

func NewExecutor(controller DeviceController, notifier Notifier) *Executor {
	return &Executor{
		controller: controller,
		notifier:   notifier,
		timeout:    defaultActionTimeout,
		log:        logrus.WithField("component", "executor"),
	}
}

// ExecuteActions runs the actions sequentially in declaration order. One
// action's failure does not stop the ones after it; the caller gets one
// result per action, in order.
func (e *Executor) ExecuteActions(ctx context.Context, actions []models.Action, m models.DeviceMetrics, ruleName string) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(actions))
	for i, action := range actions {
		result := e.executeAction(ctx, action, m, ruleName)
		if !result.Success {
			e.log.WithFields(logrus.Fields{
				"rule":   ruleName,
				"device": m.DeviceSN,
				"action": action.Type,
				"index":  i,
			}).Warnf("action failed: %s", result.Error)
		}
		results = append(results, result)
	}
	return results
}

func (e *Executor) executeAction(ctx context.Context, action models.Action, m models.DeviceMetrics, ruleName string) models.ActionResult {
	// Bounds are re-checked here even though rules are validated at save
	// time; a stored rule may predate a bounds change.
	if err := ValidateAction(action); err != nil {
		return models.ActionResult{Action: action, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		err      error
		response string
	)
	switch action.Type {
	case models.ActionSetAcOutput:
		err = e.controller.SetAcOutput(ctx, m.DeviceSN, *action.Enabled)
		response = fmt.Sprintf("ac output set to %t", *action.Enabled)
	case models.ActionSetDcOutput:
		err = e.controller.SetDcOutput(ctx, m.DeviceSN, *action.Enabled)
		response = fmt.Sprintf("dc output set to %t", *action.Enabled)
	case models.ActionSetChargingPower:
		err = e.controller.SetChargingPower(ctx, m.DeviceSN, *action.Watts)
		response = fmt.Sprintf("charging power set to %d W", *action.Watts)
	case models.ActionSetMaxChargeSoc:
		err = e.controller.SetMaxChargeSoc(ctx, m.DeviceSN, *action.Percent)
		response = fmt.Sprintf("max charge SOC set to %d%%", *action.Percent)
	case models.ActionSetMinDischargeSoc:
		err = e.controller.SetMinDischargeSoc(ctx, m.DeviceSN, *action.Percent)
		response = fmt.Sprintf("min discharge SOC set to %d%%", *action.Percent)
	case models.ActionSendNotification:
		message := RenderMessage(action.Message, m, ruleName)
		err = e.notifier.Send(ctx, message)
		response = "notification sent"
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		return models.ActionResult{Action: action, Error: err.Error()}
	}
	return models.ActionResult{Action: action, Success: true, Response: response}
}
