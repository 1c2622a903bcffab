package mqtt

import (
	"sync"

	"github.com/sweeney/tank-controller/internal/logic"
)

// Notification is one recorded Notify call.
type Notification struct {
	Device  string
	Payload []byte
}

// FakePublisher records everything published for test assertions.
// Methods are safe for concurrent use; read the fields once publishing
// has finished, or use the accessors.
type FakePublisher struct {
	mu sync.Mutex

	// Notifications contains every device state published.
	Notifications []Notification

	// Alerts contains every alert published.
	Alerts []logic.Alert

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Notify records the device state.
func (f *FakePublisher) Notify(device string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notifications = append(f.Notifications, Notification{Device: device, Payload: payload})
}

// Alert records the alert.
func (f *FakePublisher) Alert(a logic.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Alerts = append(f.Alerts, a)
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Last returns the most recent payload published for device, or nil.
func (f *FakePublisher) Last(device string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Notifications) - 1; i >= 0; i-- {
		if f.Notifications[i].Device == device {
			return f.Notifications[i].Payload
		}
	}
	return nil
}

// AlertKinds returns the kinds of every recorded alert, in order.
func (f *FakePublisher) AlertKinds() []logic.AlertKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]logic.AlertKind, 0, len(f.Alerts))
	for _, a := range f.Alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

// SystemEventNames returns the Event field of every recorded system event.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.SystemEvents))
	for _, e := range f.SystemEvents {
		names = append(names, e.Event)
	}
	return names
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notifications = nil
	f.Alerts = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishSystemError = nil
	f.Connected = false
}

var (
	_ Publisher        = (*FakePublisher)(nil)
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
	_ logic.Notifier   = (*RealPublisher)(nil)
	_ logic.Alerter    = (*RealPublisher)(nil)
)
