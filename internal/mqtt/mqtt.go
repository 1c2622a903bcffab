// Package mqtt publishes tank device state, alerts and lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/tank-controller/internal/logic"
)

// TopicPrefix is prepended to every device path.
const TopicPrefix = "aquarium/tank/"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = TopicPrefix + "system"

// TopicAlerts is the MQTT topic for operator alerts.
const TopicAlerts = TopicPrefix + "alerts"

// DeviceTopic returns the topic a device's state is published on,
// e.g. "valve/fill" -> "aquarium/tank/valve/fill".
func DeviceTopic(device string) string {
	return TopicPrefix + device
}

// Publisher publishes to MQTT. It satisfies logic.Notifier and
// logic.Alerter; those calls never block on the broker.
type Publisher interface {
	// Notify publishes a device's JSON state, retained.
	Notify(device string, payload []byte)

	// Alert publishes an operator alert.
	Alert(a logic.Alert)

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the payload for events that don't carry a status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// AlertPayload is the MQTT message payload for an alert.
type AlertPayload struct {
	Alert AlertPayloadInner `json:"alert"`
}

// AlertPayloadInner contains the alert details.
type AlertPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Valve     string `json:"valve,omitempty"`
	Message   string `json:"message"`
}

// FormatAlertPayload creates the JSON payload for an alert.
func FormatAlertPayload(a logic.Alert) ([]byte, error) {
	payload := AlertPayload{
		Alert: AlertPayloadInner{
			Timestamp: a.Time.UTC().Format(time.RFC3339),
			Kind:      string(a.Kind),
			Valve:     a.Valve,
			Message:   a.Message,
		},
	}
	return json.Marshal(payload)
}
