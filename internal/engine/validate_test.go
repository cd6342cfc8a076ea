package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

func TestValidateActionBounds(t *testing.T) {
	cases := []struct {
		name   string
		action models.Action
		ok     bool
	}{
		{"ac output ok", models.Action{Type: models.ActionSetAcOutput, Enabled: boolPtr(true)}, true},
		{"ac output missing flag", models.Action{Type: models.ActionSetAcOutput}, false},
		{"charging power floor", models.Action{Type: models.ActionSetChargingPower, Watts: intPtr(200)}, true},
		{"charging power ceiling", models.Action{Type: models.ActionSetChargingPower, Watts: intPtr(2900)}, true},
		{"charging power too low", models.Action{Type: models.ActionSetChargingPower, Watts: intPtr(199)}, false},
		{"charging power too high", models.Action{Type: models.ActionSetChargingPower, Watts: intPtr(2901)}, false},
		{"max charge soc ok", models.Action{Type: models.ActionSetMaxChargeSoc, Percent: intPtr(80)}, true},
		{"max charge soc too low", models.Action{Type: models.ActionSetMaxChargeSoc, Percent: intPtr(49)}, false},
		{"min discharge soc ok", models.Action{Type: models.ActionSetMinDischargeSoc, Percent: intPtr(0)}, true},
		{"min discharge soc too high", models.Action{Type: models.ActionSetMinDischargeSoc, Percent: intPtr(31)}, false},
		{"notification ok", models.Action{Type: models.ActionSendNotification, Message: "soc is {soc}"}, true},
		{"notification empty", models.Action{Type: models.ActionSendNotification, Message: "  "}, false},
		{"unknown type", models.Action{Type: "reboot"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAction(tc.action)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateRule(t *testing.T) {
	valid := models.Rule{
		Name:       "night saver",
		Conditions: metricCond("soc", ">", "50"),
		Actions:    []models.Action{{Type: models.ActionSetAcOutput, Enabled: boolPtr(false)}},
	}
	assert.NoError(t, ValidateRule(&valid))

	noName := valid
	noName.Name = " "
	assert.Error(t, ValidateRule(&noName))

	noActions := valid
	noActions.Actions = nil
	assert.Error(t, ValidateRule(&noActions))

	negativeCooldown := valid
	negativeCooldown.CooldownSeconds = -1
	assert.Error(t, ValidateRule(&negativeCooldown))

	badCondition := valid
	badCondition.Conditions = models.Condition{Type: "voltage"}
	assert.Error(t, ValidateRule(&badCondition))

	badNested := valid
	badNested.Conditions = models.Condition{
		Operator: models.OperatorAnd,
		Conditions: []models.Condition{
			metricCond("soc", ">", "50"),
			{Type: models.ConditionTime, Op: "until", Value: raw(`"10:00"`)},
		},
	}
	assert.Error(t, ValidateRule(&badNested))

	// An empty AND group would match every snapshot.
	emptyGroup := valid
	emptyGroup.Conditions = models.Condition{Operator: models.OperatorAnd}
	assert.Error(t, ValidateRule(&emptyGroup))

	emptyNested := valid
	emptyNested.Conditions = models.Condition{
		Operator: models.OperatorAnd,
		Conditions: []models.Condition{
			metricCond("soc", ">", "50"),
			{Operator: models.OperatorOr},
		},
	}
	assert.Error(t, ValidateRule(&emptyNested))
}
