package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// Processor runs the per-snapshot automation cycle. The cooldown tracker and
// the previous-metrics cache are owned here, created at service start and
// cleared only through the explicit Clear operations.
type Processor struct {
	store     RuleStore
	logs      LogSink
	executor  *Executor
	cooldowns *CooldownTracker
	location  *time.Location
	now       func() time.Time

	mu   sync.Mutex
	prev map[string]models.DeviceMetrics

	log *logrus.Entry
}

func NewProcessor(store RuleStore, logs LogSink, executor *Executor, location *time.Location) *Processor {
	if location == nil {
		location = time.Local
	}
	return &Processor{
		store:     store,
		logs:      logs,
		executor:  executor,
		cooldowns: NewCooldownTracker(),
		location:  location,
		now:       time.Now,
		prev:      make(map[string]models.DeviceMetrics),
		log:       logrus.WithField("component", "processor"),
	}
}

// ProcessDeviceAutomation runs one automation cycle for one device snapshot.
// It returns only after all matched rules have executed and logged, so a
// cycle is deterministic for its caller. Cycles for different devices may
// run concurrently; per-device state is keyed by serial number.
func (p *Processor) ProcessDeviceAutomation(ctx context.Context, m models.DeviceMetrics) error {
	log := p.log.WithField("device", m.DeviceSN)

	// The cache is overwritten unconditionally at the end of the cycle,
	// including when rules fail, so repeated errors cannot poison
	// change-detection indefinitely.
	previous := p.previousMetrics(m.DeviceSN)
	defer p.storePreviousMetrics(m)

	rules, err := p.store.GetApplicableRules(ctx, m.DeviceSN)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", m.DeviceSN, err)
	}
	if len(rules) == 0 {
		return nil
	}
	log.Debugf("evaluating %d rules", len(rules))

	evalCtx := EvalContext{
		Metrics:  m,
		Previous: previous,
		Now:      p.now(),
		Location: p.location,
	}

	for _, rule := range rules {
		// One rule's failure must never prevent its siblings from running.
		if err := p.processRule(ctx, rule, evalCtx); err != nil {
			log.WithField("rule", rule.ID).Errorf("rule processing failed: %v", err)
		}
	}
	return nil
}

func (p *Processor) processRule(ctx context.Context, rule models.Rule, evalCtx EvalContext) error {
	now := evalCtx.Now
	if p.cooldowns.InCooldown(rule.ID, rule.Cooldown(), now) {
		p.log.WithField("rule", rule.ID).Debugf("in cooldown, %s remaining",
			p.cooldowns.Remaining(rule.ID, rule.Cooldown(), now))
		return nil
	}

	started := p.now()
	result, err := Evaluate(rule.Conditions, evalCtx)
	if err != nil {
		// Evaluation errors are recorded as a failed execution with no
		// actions attempted; the device cycle continues.
		rec := p.newLogRecord(rule, evalCtx.Metrics, started)
		rec.Error = fmt.Sprintf("evaluation error: %v", err)
		if logErr := p.logs.AppendExecutionLog(ctx, rec); logErr != nil {
			p.log.WithField("rule", rule.ID).Errorf("append execution log: %v", logErr)
		}
		return err
	}
	if !result.Matches {
		return nil
	}

	p.log.WithFields(logrus.Fields{
		"rule":   rule.Name,
		"device": evalCtx.Metrics.DeviceSN,
	}).Info("rule matched, executing actions")

	actionResults := p.executor.ExecuteActions(ctx, rule.Actions, evalCtx.Metrics, rule.Name)

	// A partial failure still counts as a trigger: cooldown and
	// last-triggered advance so a flaky effector is not hammered.
	p.cooldowns.RecordTrigger(rule.ID, now)
	if err := p.store.MarkTriggered(ctx, rule.ID, now); err != nil {
		p.log.WithField("rule", rule.ID).Errorf("mark triggered: %v", err)
	}

	rec := p.newLogRecord(rule, evalCtx.Metrics, started)
	rec.MatchedPaths = result.MatchedPaths
	rec.FailedPaths = result.FailedPaths
	rec.ActionResults = actionResults
	rec.Success = true
	var failures []string
	for _, r := range actionResults {
		if !r.Success {
			rec.Success = false
			failures = append(failures, fmt.Sprintf("%s: %s", r.Action.Type, r.Error))
		}
	}
	rec.Error = strings.Join(failures, "; ")
	if err := p.logs.AppendExecutionLog(ctx, rec); err != nil {
		p.log.WithField("rule", rule.ID).Errorf("append execution log: %v", err)
	}
	return nil
}

func (p *Processor) newLogRecord(rule models.Rule, m models.DeviceMetrics, started time.Time) *models.ExecutionLog {
	return &models.ExecutionLog{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		DeviceSN:   m.DeviceSN,
		DurationMS: p.now().Sub(started).Milliseconds(),
		CreatedAt:  p.now(),
	}
}

// TestRuleResult is the outcome of a dry run.
type TestRuleResult struct {
	RuleID       string          `json:"rule_id"`
	RuleName     string          `json:"rule_name"`
	Enabled      bool            `json:"enabled"`
	Matches      bool            `json:"matches"`
	MatchedPaths []string        `json:"matched_paths,omitempty"`
	FailedPaths  []string        `json:"failed_paths,omitempty"`
	WouldExecute []models.Action `json:"would_execute,omitempty"`
}

// TestRule evaluates one rule's conditions against a snapshot without
// calling any effector or touching cooldown or log state.
func (p *Processor) TestRule(ctx context.Context, ruleID string, m models.DeviceMetrics) (*TestRuleResult, error) {
	rule, err := p.store.GetRuleByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if rule == nil {
		return nil, fmt.Errorf("rule %s not found", ruleID)
	}

	result, err := Evaluate(rule.Conditions, EvalContext{
		Metrics:  m,
		Previous: p.previousMetrics(m.DeviceSN),
		Now:      p.now(),
		Location: p.location,
	})
	if err != nil {
		return nil, err
	}

	out := &TestRuleResult{
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Enabled:      rule.Enabled,
		Matches:      result.Matches,
		MatchedPaths: result.MatchedPaths,
		FailedPaths:  result.FailedPaths,
	}
	if result.Matches {
		out.WouldExecute = rule.Actions
	}
	return out, nil
}

// ClearCooldown resets one rule's cooldown window.
func (p *Processor) ClearCooldown(ruleID string) {
	p.cooldowns.Clear(ruleID)
}

// ClearAllCooldowns resets every rule's cooldown window.
func (p *Processor) ClearAllCooldowns() {
	p.cooldowns.ClearAll()
}

// CooldownRemaining exposes the remaining cooldown for diagnostics.
func (p *Processor) CooldownRemaining(rule models.Rule) time.Duration {
	return p.cooldowns.Remaining(rule.ID, rule.Cooldown(), p.now())
}

func (p *Processor) previousMetrics(deviceSN string) *models.DeviceMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.prev[deviceSN]; ok {
		return &prev
	}
	return nil
}

func (p *Processor) storePreviousMetrics(m models.DeviceMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prev[m.DeviceSN] = m
}
