// Package valve implements the solenoid valve state machine.
//
// Each Valve owns one Actuator and moves between closed and open. All valves
// live in a Registry, which guarantees that at most one of them is open at a
// time: opening a valve first closes every other open valve.
package valve

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/tank-controller/internal/gpio"
)

// Status is the logical state of a valve.
type Status string

const (
	StatusClosed Status = "closed"
	StatusOpen   Status = "open"
)

var (
	// ErrUnknownValve is returned for a name that is not registered.
	ErrUnknownValve = errors.New("unknown valve")

	// ErrPrecheckRefused is returned when a valve's precheck rejects an open.
	// It is a normal refusal, not a fault.
	ErrPrecheckRefused = errors.New("precheck refused")

	// ErrInterlock is returned when an open is refused because another valve
	// could not be released first.
	ErrInterlock = errors.New("interlock: another valve is still energized")
)

// Transition reasons recorded by the registry itself.
const (
	ReasonInterlock = "interlock"
	ReasonShutdown  = "shutdown"
)

// Policy carries the safety posture of one physical valve.
// Its methods run with the registry lock held and must not call back into
// the Registry's locking methods.
type Policy interface {
	// Precheck reports whether the valve may open now.
	Precheck() bool

	// OnOpen runs after the valve opened.
	OnOpen()

	// OnClose runs after the valve closed.
	OnClose()

	// OnCloseFailed runs when a release write fails. The valve stays open,
	// so OnClose has not run and whatever OnOpen armed is still armed.
	OnCloseFailed(reason string, err error)
}

// NopPolicy allows every open and does nothing on transitions.
type NopPolicy struct{}

func (NopPolicy) Precheck() bool { return true }
func (NopPolicy) OnOpen()        {}
func (NopPolicy) OnClose()       {}

func (NopPolicy) OnCloseFailed(string, error) {}

// Event describes one valve transition.
type Event struct {
	Valve  string
	Status Status
	At     time.Time
	Reason string
}

// Observer is told about every transition. It runs with the registry lock
// held, so it must not block.
type Observer func(Event)

// Actuator wraps one digital output. Not safe for concurrent use; it is
// owned by a single Valve and driven under the registry lock.
type Actuator struct {
	out       gpio.Writer
	channel   int
	energized bool
}

// NewActuator returns an actuator for the given output line.
func NewActuator(out gpio.Writer, channel int) *Actuator {
	return &Actuator{out: out, channel: channel}
}

// On energizes the output.
func (a *Actuator) On() error {
	if err := a.out.Write(a.channel, true); err != nil {
		return fmt.Errorf("energize channel %d: %w", a.channel, err)
	}
	a.energized = true
	return nil
}

// Off de-energizes the output.
func (a *Actuator) Off() error {
	if err := a.out.Write(a.channel, false); err != nil {
		return fmt.Errorf("release channel %d: %w", a.channel, err)
	}
	a.energized = false
	return nil
}

// Energized mirrors the last successful write.
func (a *Actuator) Energized() bool { return a.energized }

// Channel returns the output line.
func (a *Actuator) Channel() int { return a.channel }

// Valve is a two-state machine over one Actuator. Its fields are guarded by
// the owning Registry's lock; read them through a Tx or the Registry.
type Valve struct {
	name     string
	actuator *Actuator
	policy   Policy
	clock    Clock
	status   Status
	openedAt time.Time
}

// Name returns the valve's registry key.
func (v *Valve) Name() string { return v.name }

// Status returns the current state.
func (v *Valve) Status() Status { return v.status }

// IsOpen reports whether the valve is open.
func (v *Valve) IsOpen() bool { return v.status == StatusOpen }

// OpenedAt returns when the valve last opened, or the zero time if closed.
func (v *Valve) OpenedAt() time.Time { return v.openedAt }

// OpenDuration returns how long the valve has been open, or 0 if closed.
func (v *Valve) OpenDuration() time.Duration {
	if v.status != StatusOpen {
		return 0
	}
	return v.clock.Now().Sub(v.openedAt)
}

// State is a copy of a valve's externally visible fields.
type State struct {
	Name     string
	Channel  int
	Status   Status
	OpenedAt time.Time
}

func (v *Valve) state() State {
	return State{
		Name:     v.name,
		Channel:  v.actuator.Channel(),
		Status:   v.status,
		OpenedAt: v.openedAt,
	}
}
