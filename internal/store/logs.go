package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// AppendExecutionLog writes one append-only execution record.
func (s *Store) AppendExecutionLog(ctx context.Context, rec *models.ExecutionLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	results, err := json.Marshal(rec.ActionResults)
	if err != nil {
		return fmt.Errorf("marshal action results: %w", err)
	}
	matched, err := json.Marshal(rec.MatchedPaths)
	if err != nil {
		return err
	}
	failed, err := json.Marshal(rec.FailedPaths)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_logs
		 (id, rule_id, rule_name, device_sn, matched_paths, failed_paths,
		  action_results, success, error, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.RuleID, rec.RuleName, rec.DeviceSN, matched, failed,
		results, rec.Success, rec.Error, rec.DurationMS, rec.CreatedAt)
	return err
}

// ListExecutionLogs returns the most recent records, optionally filtered by
// rule.
func (s *Store) ListExecutionLogs(ctx context.Context, ruleID string, limit int) ([]models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, rule_id, rule_name, device_sn, matched_paths, failed_paths,
		        action_results, success, error, duration_ms, created_at
		 FROM execution_logs
		 WHERE ($1 = '' OR rule_id = $1)
		 ORDER BY created_at DESC LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ExecutionLog
	for rows.Next() {
		var (
			rec     models.ExecutionLog
			matched []byte
			failed  []byte
			results []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.RuleName, &rec.DeviceSN,
			&matched, &failed, &results, &rec.Success, &rec.Error,
			&rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(matched, &rec.MatchedPaths); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(failed, &rec.FailedPaths); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(results, &rec.ActionResults); err != nil {
			return nil, err
		}
		logs = append(logs, rec)
	}
	return logs, rows.Err()
}
