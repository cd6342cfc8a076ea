package engine

import (
	"regexp"
	"strconv"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

// RenderMessage substitutes {placeholder} tokens in a notification template
// with values from the triggering snapshot. Unknown placeholders are left
// verbatim.
func RenderMessage(template string, m models.DeviceMetrics, ruleName string) string {
	status := "offline"
	if m.Online {
		status = "online"
	}
	values := map[string]string{
		"deviceSn":         m.DeviceSN,
		"ruleName":         ruleName,
		"status":           status,
		"soc":              formatNumber(m.SOC),
		"temperature":      formatNumber(m.Temperature),
		"acInputWatts":     formatNumber(m.ACInputWatts),
		"solarInputWatts":  formatNumber(m.SolarInputWatts),
		"acOutputWatts":    formatNumber(m.ACOutputWatts),
		"dcOutputWatts":    formatNumber(m.DCOutputWatts),
		"totalInputWatts":  formatNumber(m.TotalInputWatts),
		"totalOutputWatts": formatNumber(m.TotalOutputWatts),
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return token
	})
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
