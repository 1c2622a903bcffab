// Package logic is the tank's water-handling controller: the fill and drain
// safety monitors, the fault lockout, the water-change sequence and the
// periodic top-off.
//
// Hardware, time and the outside world are all injected, so the whole
// package runs against fakes in tests.
package logic

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sweeney/tank-controller/internal/valve"
)

// Valve names.
const (
	ValveDrain = "drain"
	ValveFill  = "fill"
)

// Timer job ids.
const (
	JobFillMonitor  = "close_fill_when_full"
	JobDrainMonitor = "close_drain_timeout"
	JobWaterChange  = "water_change_drain_complete"
	JobTopOff       = "top_off"
)

// JobRelease returns the id of the job that retries a failed close of the
// named valve.
func JobRelease(name string) string { return "release_" + name }

// Transition reasons.
const (
	ReasonRequest      = "request"
	ReasonTankFull     = "tank_full"
	ReasonFillTimeout  = "fill_timeout"
	ReasonDrainTimeout = "drain_timeout"
	ReasonWaterChange  = "water_change"
	ReasonTopOff       = "top_off"
)

// DeviceWaterLevel is the notifier path for float switch readings.
const DeviceWaterLevel = "water_level/tank"

// DeviceValve returns the notifier path for a valve.
func DeviceValve(name string) string { return "valve/" + name }

var (
	// ErrLockedOut is returned by automated fill paths while a fill fault stands.
	ErrLockedOut = errors.New("auto fill locked out due to prior fault")

	// ErrRefused wraps the reason a water change was declined.
	ErrRefused = errors.New("refused")

	// ErrInvalidDuration is returned for a water change duration out of range.
	ErrInvalidDuration = errors.New("invalid duration")
)

// LevelSensor reads the binary water-level switch.
type LevelSensor interface {
	IsFull() (bool, error)
}

// Notifier publishes a device payload. Fire-and-forget: it must not block.
type Notifier interface {
	Notify(device string, payload []byte)
}

// AlertKind classifies an alert.
type AlertKind string

const (
	AlertFillTimeout        AlertKind = "fill_timeout"
	AlertDrainTimeout       AlertKind = "drain_timeout"
	AlertWaterChangeAborted AlertKind = "water_change_aborted"
	AlertReleaseFailed      AlertKind = "release_failed"
)

// Alert is an operator-facing fault report.
type Alert struct {
	Time    time.Time
	Kind    AlertKind
	Valve   string
	Message string
}

// Alerter receives alerts. It must not block.
type Alerter interface {
	Alert(a Alert)
}

// Alerters fans an alert out to several Alerters.
type Alerters []Alerter

// Alert delivers a to every member.
func (as Alerters) Alert(a Alert) {
	for _, x := range as {
		x.Alert(a)
	}
}

// TopOffOutcome records what the last top-off run did.
type TopOffOutcome string

const (
	TopOffStarted   TopOffOutcome = "started"
	TopOffTankFull  TopOffOutcome = "tank_full"
	TopOffLockedOut TopOffOutcome = "locked_out"
	TopOffBusy      TopOffOutcome = "busy"
	TopOffFailed    TopOffOutcome = "error"
)

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Valves             []valve.State
	TankFull           bool
	LockedOut          bool
	FillBudget         time.Duration
	WaterChangePending bool
	LastTopOff         TopOffOutcome
	LastTopOffAt       time.Time
}

type statePayload struct {
	State valve.Status `json:"state"`
}

// ValvePayload is the body published and served for a valve.
func ValvePayload(s valve.Status) []byte {
	data, _ := json.Marshal(statePayload{State: s})
	return data
}

type levelPayload struct {
	Full bool `json:"full"`
}

// LevelPayload is the body published for a float switch reading.
func LevelPayload(full bool) []byte {
	data, _ := json.Marshal(levelPayload{Full: full})
	return data
}
