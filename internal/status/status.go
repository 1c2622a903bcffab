// Package status provides a thread-safe status tracker for the tank controller.
// It is read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/tank-controller/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	FillCheck         time.Duration
	FillBudget        time.Duration
	DrainCeiling      time.Duration
	WaterChangeBudget time.Duration
	TopOffInterval    time.Duration
	TopOffBudget      time.Duration
	Heartbeat         time.Duration
	Broker            string
	HTTPPort          string
	DBPath            string
}

// Source supplies the controller's state.
type Source interface {
	Snapshot() logic.Snapshot
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Tank          logic.Snapshot
	AlertCount    int
	LastAlert     *logic.Alert
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. Controller state is
// pulled from the Source on every Snapshot.
type Tracker struct {
	mu   sync.RWMutex
	src  Source
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, config and source.
// src may be nil, in which case the Tank field stays zero.
func NewTracker(startTime time.Time, cfg Config, src Source) *Tracker {
	return &Tracker{
		src: src,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Alert counts an alert and keeps it as the most recent. Tracker is a
// logic.Alerter.
func (t *Tracker) Alert(a logic.Alert) {
	t.mu.Lock()
	t.snap.AlertCount++
	t.snap.LastAlert = &a
	t.mu.Unlock()
}

// SetSource replaces the controller state source.
func (t *Tracker) SetSource(src Source) {
	t.mu.Lock()
	t.src = src
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s, src := t.snap, t.src
	t.mu.RUnlock()
	if src != nil {
		s.Tank = src.Snapshot()
	}
	s.Now = time.Now()
	return s
}
