package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

const ruleColumns = `id, name, device_sn, enabled, conditions, actions,
	cooldown_seconds, priority, created_at, updated_at, last_triggered_at`

// GetApplicableRules returns enabled rules scoped to deviceSN plus global
// rules, ordered by priority then creation time. Disabled rules are
// excluded here, not by the processor.
func (s *Store) GetApplicableRules(ctx context.Context, deviceSN string) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		 WHERE enabled AND (device_sn IS NULL OR device_sn = $1)
		 ORDER BY priority DESC, created_at`, deviceSN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListRules returns every rule for the management API.
func (s *Store) ListRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules ORDER BY priority DESC, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// GetRuleByID fetches one rule; returns (nil, nil) when it does not exist.
func (s *Store) GetRuleByID(ctx context.Context, id string) (*models.Rule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateRule inserts a rule, assigning an ID when absent.
func (s *Store) CreateRule(ctx context.Context, r *models.Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	conditions, actions, err := marshalRuleJSON(r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err = s.pool.Exec(ctx,
		`INSERT INTO automation_rules
		 (id, name, device_sn, enabled, conditions, actions, cooldown_seconds, priority, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.Name, r.DeviceSN, r.Enabled, conditions, actions,
		r.CooldownSeconds, r.Priority, r.CreatedAt, r.UpdatedAt)
	return err
}

// UpdateRule replaces an existing rule's definition.
func (s *Store) UpdateRule(ctx context.Context, r *models.Rule) error {
	conditions, actions, err := marshalRuleJSON(r)
	if err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_rules SET
		 name = $2, device_sn = NULLIF($3, ''), enabled = $4, conditions = $5,
		 actions = $6, cooldown_seconds = $7, priority = $8, updated_at = $9
		 WHERE id = $1`,
		r.ID, r.Name, r.DeviceSN, r.Enabled, conditions, actions,
		r.CooldownSeconds, r.Priority, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s not found", r.ID)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	return err
}

// MarkTriggered records the rule's last trigger time.
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE automation_rules SET last_triggered_at = $2 WHERE id = $1`, id, at)
	return err
}

func marshalRuleJSON(r *models.Rule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	return conditions, actions, nil
}

func scanRules(rows pgx.Rows) ([]models.Rule, error) {
	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (*models.Rule, error) {
	var (
		r          models.Rule
		deviceSN   *string
		conditions []byte
		actions    []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &deviceSN, &r.Enabled, &conditions, &actions,
		&r.CooldownSeconds, &r.Priority, &r.CreatedAt, &r.UpdatedAt, &r.LastTriggeredAt); err != nil {
		return nil, err
	}
	if deviceSN != nil {
		r.DeviceSN = *deviceSN
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("rule %s conditions: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("rule %s actions: %w", r.ID, err)
	}
	return &r, nil
}
