package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/valve"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event              string       `json:"event,omitempty"`
	Reason             string       `json:"reason,omitempty"`
	Valves             []ValveJSON  `json:"valves"`
	TankFull           bool         `json:"tank_full"`
	LockedOut          bool         `json:"locked_out"`
	FillBudgetSeconds  int64        `json:"fill_budget_s"`
	WaterChangePending bool         `json:"water_change_pending"`
	TopOff             *TopOffJSON  `json:"top_off,omitempty"`
	Alerts             AlertsJSON   `json:"alerts"`
	UptimeSeconds      int64        `json:"uptime_seconds"`
	StartTime          string       `json:"start_time"`
	Timestamp          string       `json:"timestamp"`
	MQTT               MQTTStatus   `json:"mqtt"`
	Network            *NetworkJSON `json:"network,omitempty"`
	Config             ConfigJSON   `json:"config"`
}

// ValveJSON is one valve's state.
type ValveJSON struct {
	Name        string `json:"name"`
	Channel     int    `json:"channel"`
	State       string `json:"state"`
	OpenedAt    string `json:"opened_at,omitempty"`
	OpenSeconds int64  `json:"open_seconds,omitempty"`
}

// TopOffJSON reports the last top-off attempt.
type TopOffJSON struct {
	Outcome string `json:"outcome"`
	At      string `json:"at"`
}

// AlertsJSON reports alerts raised since startup.
type AlertsJSON struct {
	Count int        `json:"count"`
	Last  *AlertJSON `json:"last,omitempty"`
}

// AlertJSON is the JSON representation of an alert.
type AlertJSON struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Valve     string `json:"valve,omitempty"`
	Message   string `json:"message"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	FillCheckMs              int64  `json:"fill_check_ms"`
	FillBudgetSeconds        int64  `json:"fill_budget_s"`
	DrainCeilingSeconds      int64  `json:"drain_ceiling_s"`
	WaterChangeBudgetSeconds int64  `json:"water_change_budget_s"`
	TopOffIntervalSeconds    int64  `json:"top_off_interval_s"`
	TopOffBudgetSeconds      int64  `json:"top_off_budget_s"`
	HeartbeatMs              int64  `json:"heartbeat_ms"`
	Broker                   string `json:"broker"`
	HTTPPort                 string `json:"http_port"`
	DBPath                   string `json:"db,omitempty"`
}

func seconds(d time.Duration) int64 {
	return int64(d.Truncate(time.Second).Seconds())
}

func buildValves(snap Snapshot) []ValveJSON {
	out := make([]ValveJSON, 0, len(snap.Tank.Valves))
	for _, v := range snap.Tank.Valves {
		vj := ValveJSON{Name: v.Name, Channel: v.Channel, State: string(v.Status)}
		if v.Status == valve.StatusOpen && !v.OpenedAt.IsZero() {
			vj.OpenedAt = v.OpenedAt.UTC().Format(time.RFC3339)
			vj.OpenSeconds = seconds(snap.Now.Sub(v.OpenedAt))
		}
		out = append(out, vj)
	}
	return out
}

func buildAlert(a *logic.Alert) *AlertJSON {
	if a == nil {
		return nil
	}
	return &AlertJSON{
		Timestamp: a.Time.UTC().Format(time.RFC3339),
		Kind:      string(a.Kind),
		Valve:     a.Valve,
		Message:   a.Message,
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Valves:             buildValves(snap),
		TankFull:           snap.Tank.TankFull,
		LockedOut:          snap.Tank.LockedOut,
		FillBudgetSeconds:  seconds(snap.Tank.FillBudget),
		WaterChangePending: snap.Tank.WaterChangePending,
		Alerts:             AlertsJSON{Count: snap.AlertCount, Last: buildAlert(snap.LastAlert)},
		UptimeSeconds:      seconds(snap.Uptime()),
		StartTime:          snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:          snap.Now.UTC().Format(time.RFC3339),
		MQTT:               MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			FillCheckMs:              snap.Config.FillCheck.Milliseconds(),
			FillBudgetSeconds:        seconds(snap.Config.FillBudget),
			DrainCeilingSeconds:      seconds(snap.Config.DrainCeiling),
			WaterChangeBudgetSeconds: seconds(snap.Config.WaterChangeBudget),
			TopOffIntervalSeconds:    seconds(snap.Config.TopOffInterval),
			TopOffBudgetSeconds:      seconds(snap.Config.TopOffBudget),
			HeartbeatMs:              snap.Config.Heartbeat.Milliseconds(),
			Broker:                   snap.Config.Broker,
			HTTPPort:                 snap.Config.HTTPPort,
			DBPath:                   snap.Config.DBPath,
		},
	}
	if snap.Tank.LastTopOff != "" {
		inner.TopOff = &TopOffJSON{
			Outcome: string(snap.Tank.LastTopOff),
			At:      snap.Tank.LastTopOffAt.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
