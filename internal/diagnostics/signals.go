package diagnostics

// lowBatteryLevel is the highest percentage still reported as low.
const lowBatteryLevel = 10

// Status classes of a connectivity literal.
const (
	statusOther = iota
	statusBad
	statusGood
)

var badStatuses = map[string]struct{}{
	"connectivity_issue": {},
	"disconnected":       {},
}

const goodStatus = "connected"

// batteryLow reports whether the payload carries a low battery reading.
func batteryLow(payload map[string]any) bool {
	power, _ := payload["power_state"].(map[string]any)
	if len(power) == 0 {
		power, _ = payload["battery_state"].(map[string]any)
	}
	if len(power) == 0 {
		return false
	}

	if state, _ := power["battery_state"].(string); state == "low" {
		return true
	}
	if level, ok := numeric(power["level"]); ok && level <= lowBatteryLevel {
		return true
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// connectivityStatus extracts the status literal, preferring the nested
// zigbee_connectivity object over a top-level status.
func connectivityStatus(payload map[string]any) string {
	status, _ := payload["status"].(string)
	if zc, ok := payload["zigbee_connectivity"].(map[string]any); ok {
		if nested, ok := zc["status"].(string); ok {
			status = nested
		}
	}
	return status
}

func classify(status string) int {
	if status == goodStatus {
		return statusGood
	}
	if _, ok := badStatuses[status]; ok {
		return statusBad
	}
	return statusOther
}
