package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// maxConditionDepth caps condition tree recursion. Rule trees are
// human-authored and small; anything deeper is rejected as malformed.
const maxConditionDepth = 32

// EvalContext is the immutable input of one evaluation pass.
type EvalContext struct {
	Metrics  models.DeviceMetrics
	Previous *models.DeviceMetrics
	Now      time.Time
	Location *time.Location
}

func (ctx EvalContext) location() *time.Location {
	if ctx.Location != nil {
		return ctx.Location
	}
	return time.Local
}

// EvalResult carries the overall verdict plus a per-leaf trace. Every leaf
// that was visited lands in exactly one of the two path lists.
type EvalResult struct {
	Matches      bool     `json:"matches"`
	MatchedPaths []string `json:"matched_paths,omitempty"`
	FailedPaths  []string `json:"failed_paths,omitempty"`
}

// Evaluate walks a condition tree against ctx. It is pure: no side effects,
// deterministic for identical inputs, safe to call concurrently.
func Evaluate(cond models.Condition, ctx EvalContext) (EvalResult, error) {
	var res EvalResult
	matched, err := evaluateNode(cond, ctx, "", 0, &res)
	if err != nil {
		return EvalResult{}, err
	}
	res.Matches = matched
	return res, nil
}

func evaluateNode(cond models.Condition, ctx EvalContext, path string, depth int, res *EvalResult) (bool, error) {
	if depth > maxConditionDepth {
		return false, fmt.Errorf("condition tree exceeds max depth %d", maxConditionDepth)
	}

	if cond.IsLeaf() {
		matched, err := evaluateLeaf(cond, ctx)
		if err != nil {
			return false, fmt.Errorf("%s: %w", joinPath(path, describeLeaf(cond)), err)
		}
		if matched {
			res.MatchedPaths = append(res.MatchedPaths, joinPath(path, describeLeaf(cond)))
		} else {
			res.FailedPaths = append(res.FailedPaths, joinPath(path, describeLeaf(cond)))
		}
		return matched, nil
	}

	if cond.Operator != models.OperatorAnd && cond.Operator != models.OperatorOr {
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}

	// Every child is evaluated even once the group's outcome is decided, so
	// the trace always records the full tree.
	anyMatched := false
	allMatched := true
	for i, child := range cond.Conditions {
		childPath := fmt.Sprintf("%s[%d]", joinPath(path, cond.Operator), i)
		matched, err := evaluateNode(child, ctx, childPath, depth+1, res)
		if err != nil {
			return false, err
		}
		if matched {
			anyMatched = true
		} else {
			allMatched = false
		}
	}

	if cond.Operator == models.OperatorOr {
		return anyMatched, nil
	}
	return allMatched, nil
}

func evaluateLeaf(cond models.Condition, ctx EvalContext) (bool, error) {
	switch cond.Type {
	case models.ConditionMetric:
		return evaluateMetric(cond, ctx.Metrics)
	case models.ConditionTime:
		return evaluateTime(cond, ctx.Now.In(ctx.location()))
	case models.ConditionDayOfWeek:
		return evaluateDayOfWeek(cond, ctx.Now.In(ctx.location()))
	case models.ConditionEvent:
		return evaluateEvent(cond, ctx)
	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

func evaluateMetric(cond models.Condition, m models.DeviceMetrics) (bool, error) {
	actual, err := metricField(m, cond.Field)
	if err != nil {
		return false, err
	}

	if cond.Op == "between" {
		var bounds [2]float64
		if err := json.Unmarshal(cond.Value, &bounds); err != nil {
			return false, fmt.Errorf("between expects [low, high]: %w", err)
		}
		return actual >= bounds[0] && actual <= bounds[1], nil
	}

	var expected float64
	if err := json.Unmarshal(cond.Value, &expected); err != nil {
		return false, fmt.Errorf("metric value: %w", err)
	}
	switch cond.Op {
	case ">":
		return actual > expected, nil
	case "<":
		return actual < expected, nil
	case ">=":
		return actual >= expected, nil
	case "<=":
		return actual <= expected, nil
	case "==":
		// Exact equality, no epsilon. On derived totals this may never
		// match; kept as literal behavior.
		return actual == expected, nil
	default:
		return false, fmt.Errorf("unknown metric operator %q", cond.Op)
	}
}

func metricField(m models.DeviceMetrics, field string) (float64, error) {
	switch field {
	case "soc":
		return m.SOC, nil
	case "temperature":
		return m.Temperature, nil
	case "acInputWatts":
		return m.ACInputWatts, nil
	case "solarInputWatts":
		return m.SolarInputWatts, nil
	case "acOutputWatts":
		return m.ACOutputWatts, nil
	case "dcOutputWatts":
		return m.DCOutputWatts, nil
	case "totalInputWatts":
		return m.TotalInputWatts, nil
	case "totalOutputWatts":
		return m.TotalOutputWatts, nil
	default:
		return 0, fmt.Errorf("unknown metric field %q", field)
	}
}

func evaluateTime(cond models.Condition, now time.Time) (bool, error) {
	current := now.Hour()*60 + now.Minute()

	switch cond.Op {
	case "between":
		var window [2]string
		if err := json.Unmarshal(cond.Value, &window); err != nil {
			return false, fmt.Errorf("time between expects [\"HH:MM\", \"HH:MM\"]: %w", err)
		}
		low, err := parseClock(window[0])
		if err != nil {
			return false, err
		}
		high, err := parseClock(window[1])
		if err != nil {
			return false, err
		}
		if low > high {
			// Window wraps through midnight, e.g. 22:00-06:00.
			return current >= low || current <= high, nil
		}
		return current >= low && current <= high, nil
	case "equals":
		var at string
		if err := json.Unmarshal(cond.Value, &at); err != nil {
			return false, fmt.Errorf("time equals expects \"HH:MM\": %w", err)
		}
		minutes, err := parseClock(at)
		if err != nil {
			return false, err
		}
		return current == minutes, nil
	default:
		return false, fmt.Errorf("unknown time operator %q", cond.Op)
	}
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return hour*60 + minute, nil
}

func evaluateDayOfWeek(cond models.Condition, now time.Time) (bool, error) {
	var days []string
	if err := json.Unmarshal(cond.Value, &days); err != nil {
		return false, fmt.Errorf("dayOfWeek expects a list of weekday tags: %w", err)
	}

	today := weekdayTag(now.Weekday().String())
	member := false
	for _, d := range days {
		if weekdayTag(d) == today {
			member = true
			break
		}
	}

	switch cond.Op {
	case "in":
		return member, nil
	case "notIn":
		return !member, nil
	default:
		return false, fmt.Errorf("unknown dayOfWeek operator %q", cond.Op)
	}
}

// weekdayTag normalizes "Monday", "monday" and "mon" to "mon".
func weekdayTag(s string) string {
	s = strings.ToLower(s)
	if len(s) > 3 {
		s = s[:3]
	}
	return s
}

func evaluateEvent(cond models.Condition, ctx EvalContext) (bool, error) {
	m := ctx.Metrics
	switch cond.EventType {
	case models.EventError:
		// Level-triggered; repeated firing is bounded by the rule cooldown.
		return m.HasError, nil
	case models.EventOffline:
		// Edge-triggered; without previous metrics there is no edge.
		return ctx.Previous != nil && ctx.Previous.Online && !m.Online, nil
	case models.EventOnline:
		return ctx.Previous != nil && !ctx.Previous.Online && m.Online, nil
	case models.EventLowBattery:
		return m.SOC <= 20, nil
	case models.EventFullBattery:
		return m.SOC >= 100, nil
	default:
		return false, fmt.Errorf("unknown event type %q", cond.EventType)
	}
}

func describeLeaf(c models.Condition) string {
	switch c.Type {
	case models.ConditionMetric:
		return fmt.Sprintf("metric(%s %s %s)", c.Field, c.Op, compactValue(c.Value))
	case models.ConditionTime:
		return fmt.Sprintf("time(%s %s)", c.Op, compactValue(c.Value))
	case models.ConditionDayOfWeek:
		return fmt.Sprintf("dayOfWeek(%s %s)", c.Op, compactValue(c.Value))
	case models.ConditionEvent:
		return fmt.Sprintf("event(%s)", c.EventType)
	default:
		return fmt.Sprintf("unknown(%s)", c.Type)
	}
}

func compactValue(raw json.RawMessage) string {
	return strings.Join(strings.Fields(string(raw)), "")
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}
