package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

type mockStore struct {
	mu        sync.Mutex
	rules     []models.Rule
	triggered []string
}

func (s *mockStore) GetApplicableRules(_ context.Context, deviceSN string) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Rule
	for _, r := range s.rules {
		if r.Enabled && (r.DeviceSN == "" || r.DeviceSN == deviceSN) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *mockStore) GetRuleByID(_ context.Context, id string) (*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.ID == id {
			rule := r
			return &rule, nil
		}
	}
	return nil, nil
}

func (s *mockStore) MarkTriggered(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = append(s.triggered, id)
	return nil
}

type mockSink struct {
	mu      sync.Mutex
	records []*models.ExecutionLog
}

func (s *mockSink) AppendExecutionLog(_ context.Context, rec *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

type processorFixture struct {
	processor  *Processor
	store      *mockStore
	sink       *mockSink
	controller *mockController
	notifier   *mockNotifier
	clock      time.Time
}

func newFixture(rules ...models.Rule) *processorFixture {
	f := &processorFixture{
		store:      &mockStore{rules: rules},
		sink:       &mockSink{},
		controller: newMockController(),
		notifier:   &mockNotifier{},
		clock:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.processor = NewProcessor(f.store, f.sink, NewExecutor(f.controller, f.notifier), time.UTC)
	f.processor.now = func() time.Time { return f.clock }
	return f
}

func (f *processorFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func socRule(id, deviceSN string, cooldownSeconds int) models.Rule {
	return models.Rule{
		ID:              id,
		Name:            "rule " + id,
		DeviceSN:        deviceSN,
		Enabled:         true,
		CooldownSeconds: cooldownSeconds,
		Conditions:      metricCond("soc", "<", "30"),
		Actions:         []models.Action{{Type: models.ActionSetAcOutput, Enabled: boolPtr(false)}},
	}
}

func lowSocMetrics(deviceSN string) models.DeviceMetrics {
	return models.DeviceMetrics{DeviceSN: deviceSN, Online: true, SOC: 25}
}

func TestProcessorTriggersMatchingRule(t *testing.T) {
	f := newFixture(socRule("r1", "", 60))

	err := f.processor.ProcessDeviceAutomation(context.Background(), lowSocMetrics("dev-a"))
	require.NoError(t, err)

	require.Len(t, f.controller.calls, 1)
	assert.Equal(t, "dev-a", f.controller.calls[0].deviceSN)
	assert.Equal(t, []string{"r1"}, f.store.triggered)

	require.Len(t, f.sink.records, 1)
	rec := f.sink.records[0]
	assert.Equal(t, "r1", rec.RuleID)
	assert.True(t, rec.Success)
	require.Len(t, rec.ActionResults, 1)
}

func TestProcessorScopeIsolation(t *testing.T) {
	f := newFixture(socRule("r1", "dev-a", 0))

	err := f.processor.ProcessDeviceAutomation(context.Background(), lowSocMetrics("dev-b"))
	require.NoError(t, err)

	assert.Empty(t, f.controller.calls, "rule scoped to dev-a must not fire for dev-b")
	assert.Empty(t, f.sink.records)
}

func TestProcessorCooldownGating(t *testing.T) {
	f := newFixture(socRule("r1", "", 60))
	ctx := context.Background()

	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, lowSocMetrics("dev-a")))
	assert.Len(t, f.controller.calls, 1)

	f.advance(30 * time.Second)
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, lowSocMetrics("dev-a")))
	assert.Len(t, f.controller.calls, 1, "still cooling down at t=30s")

	f.advance(31 * time.Second)
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, lowSocMetrics("dev-a")))
	assert.Len(t, f.controller.calls, 2, "cooldown elapsed at t=61s")
}

func TestProcessorRuleFailureIsolation(t *testing.T) {
	broken := models.Rule{
		ID:         "broken",
		Name:       "broken",
		Enabled:    true,
		Conditions: models.Condition{Type: "voltage"},
		Actions:    []models.Action{{Type: models.ActionSendNotification, Message: "x"}},
	}
	f := newFixture(broken, socRule("healthy", "", 0))

	err := f.processor.ProcessDeviceAutomation(context.Background(), lowSocMetrics("dev-a"))
	require.NoError(t, err, "one rule's failure must not fail the cycle")

	// The broken rule logged a failed execution with no actions; the
	// healthy sibling still ran.
	require.Len(t, f.sink.records, 2)
	assert.Equal(t, "broken", f.sink.records[0].RuleID)
	assert.False(t, f.sink.records[0].Success)
	assert.Empty(t, f.sink.records[0].ActionResults)
	assert.Contains(t, f.sink.records[0].Error, "evaluation error")

	assert.Equal(t, "healthy", f.sink.records[1].RuleID)
	assert.Len(t, f.controller.calls, 1)
	assert.Equal(t, []string{"healthy"}, f.store.triggered)
}

func TestProcessorPartialFailureStillCountsAsTrigger(t *testing.T) {
	rule := socRule("r1", "", 60)
	rule.Actions = []models.Action{
		{Type: models.ActionSetAcOutput, Enabled: boolPtr(false)},
		{Type: models.ActionSendNotification, Message: "ac off"},
	}
	f := newFixture(rule)
	f.controller.fail["setAcOutput"] = assert.AnError

	require.NoError(t, f.processor.ProcessDeviceAutomation(context.Background(), lowSocMetrics("dev-a")))

	require.Len(t, f.sink.records, 1)
	rec := f.sink.records[0]
	assert.False(t, rec.Success)
	require.Len(t, rec.ActionResults, 2)
	assert.False(t, rec.ActionResults[0].Success)
	assert.True(t, rec.ActionResults[1].Success)

	// Partial failure still advances cooldown and last-triggered.
	assert.Equal(t, []string{"r1"}, f.store.triggered)
	f.advance(30 * time.Second)
	require.NoError(t, f.processor.ProcessDeviceAutomation(context.Background(), lowSocMetrics("dev-a")))
	assert.Len(t, f.sink.records, 1, "no retry inside the cooldown window")
}

func TestProcessorEventEdgeUsesPreviousCycle(t *testing.T) {
	rule := models.Rule{
		ID:         "online-alert",
		Name:       "online alert",
		Enabled:    true,
		Conditions: models.Condition{Type: models.ConditionEvent, EventType: models.EventOnline},
		Actions:    []models.Action{{Type: models.ActionSendNotification, Message: "{deviceSn} is back"}},
	}
	f := newFixture(rule)
	ctx := context.Background()

	offline := models.DeviceMetrics{DeviceSN: "dev-a", Online: false}
	online := models.DeviceMetrics{DeviceSN: "dev-a", Online: true}

	// Cold start: no previous snapshot, the edge cannot match.
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, online))
	assert.Empty(t, f.notifier.messages)

	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, offline))
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, online))
	assert.Equal(t, []string{"dev-a is back"}, f.notifier.messages)
}

func TestProcessorPreviousMetricsKeyedPerDevice(t *testing.T) {
	rule := models.Rule{
		ID:         "offline-alert",
		Name:       "offline alert",
		Enabled:    true,
		Conditions: models.Condition{Type: models.ConditionEvent, EventType: models.EventOffline},
		Actions:    []models.Action{{Type: models.ActionSendNotification, Message: "{deviceSn} lost"}},
	}
	f := newFixture(rule)
	ctx := context.Background()

	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, models.DeviceMetrics{DeviceSN: "dev-a", Online: true}))
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, models.DeviceMetrics{DeviceSN: "dev-b", Online: false}))

	// dev-b going offline must use dev-b's (absent) history, not dev-a's.
	assert.Empty(t, f.notifier.messages)
}

func TestTestRuleIsSideEffectFree(t *testing.T) {
	f := newFixture(socRule("r1", "", 60))

	result, err := f.processor.TestRule(context.Background(), "r1", lowSocMetrics("dev-a"))
	require.NoError(t, err)
	assert.True(t, result.Matches)
	require.Len(t, result.WouldExecute, 1)
	assert.Equal(t, models.ActionSetAcOutput, result.WouldExecute[0].Type)

	assert.Empty(t, f.controller.calls, "dry run must not call effectors")
	assert.Empty(t, f.sink.records, "dry run must not log")
	assert.Empty(t, f.store.triggered)

	// Cooldown untouched: a real cycle right after still fires.
	require.NoError(t, f.processor.ProcessDeviceAutomation(context.Background(), lowSocMetrics("dev-a")))
	assert.Len(t, f.controller.calls, 1)
}

func TestTestRuleNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.processor.TestRule(context.Background(), "missing", lowSocMetrics("dev-a"))
	assert.Error(t, err)
}

func TestProcessorClearCooldown(t *testing.T) {
	f := newFixture(socRule("r1", "", 3600))
	ctx := context.Background()

	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, lowSocMetrics("dev-a")))
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, lowSocMetrics("dev-a")))
	assert.Len(t, f.controller.calls, 1)

	f.processor.ClearCooldown("r1")
	require.NoError(t, f.processor.ProcessDeviceAutomation(ctx, lowSocMetrics("dev-a")))
	assert.Len(t, f.controller.calls, 2)
}
