// Package metrics normalizes vendor quota payloads into the DeviceMetrics
// shape the engine evaluates. Vendor field drift stays contained here.
package metrics

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

// Vendor quota keys for the fields the engine cares about.
const (
	keySOC         = "pd.soc"
	keyTemperature = "bms_bmsStatus.temp"
	keyACInput     = "inv.inputWatts"
	keySolarInput  = "mppt.inWatts"
	keyACOutput    = "inv.outputWatts"
	keyDCOutput    = "pd.carWatts"
)

// Subsystem error fields, collected in this order.
var errorKeys = []string{"pd.errCode", "inv.errCode", "mppt.faultCode"}

// Build maps a raw quota map into a normalized snapshot. Totals are always
// derived from their constituent channels, never read from the payload.
func Build(deviceSN string, online bool, quota map[string]any, at time.Time) models.DeviceMetrics {
	m := models.DeviceMetrics{
		DeviceSN:        deviceSN,
		Online:          online,
		SOC:             numeric(quota[keySOC]),
		Temperature:     numeric(quota[keyTemperature]),
		ACInputWatts:    numeric(quota[keyACInput]),
		SolarInputWatts: numeric(quota[keySolarInput]),
		ACOutputWatts:   numeric(quota[keyACOutput]),
		DCOutputWatts:   numeric(quota[keyDCOutput]),
		CollectedAt:     at,
	}
	m.TotalInputWatts = m.ACInputWatts + m.SolarInputWatts
	m.TotalOutputWatts = m.ACOutputWatts + m.DCOutputWatts

	for _, key := range errorKeys {
		if code := int(numeric(quota[key])); code != 0 {
			m.ErrorCodes = append(m.ErrorCodes, code)
		}
	}
	m.HasError = len(m.ErrorCodes) > 0
	return m
}

// Offline builds a snapshot for a device that could not be reached. Power
// channels read zero; SOC and temperature are unknown and stay zero too.
func Offline(deviceSN string, at time.Time) models.DeviceMetrics {
	return models.DeviceMetrics{DeviceSN: deviceSN, CollectedAt: at}
}

// numeric coerces the value shapes that show up in vendor JSON.
func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
