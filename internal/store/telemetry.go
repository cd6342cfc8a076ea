package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// InsertTelemetry archives one normalized snapshot.
func (s *Store) InsertTelemetry(ctx context.Context, m models.DeviceMetrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO telemetry (device_sn, online, metrics, collected_at)
		 VALUES ($1, $2, $3, $4)`,
		m.DeviceSN, m.Online, payload, m.CollectedAt)
	return err
}
