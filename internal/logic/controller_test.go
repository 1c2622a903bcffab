package logic

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/tank-controller/internal/gpio"
	"github.com/sweeney/tank-controller/internal/timer"
	"github.com/sweeney/tank-controller/internal/valve"
)

type note struct {
	device  string
	payload string
}

// recorder is both Notifier and Alerter.
type recorder struct {
	mu     sync.Mutex
	notes  []note
	alerts []Alert
}

func (r *recorder) Notify(device string, payload []byte) {
	r.mu.Lock()
	r.notes = append(r.notes, note{device: device, payload: string(payload)})
	r.mu.Unlock()
}

func (r *recorder) Alert(a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *recorder) alertKinds() []AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AlertKind
	for _, a := range r.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func (r *recorder) notesFor(device string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notes {
		if n.device == device {
			out = append(out, n.payload)
		}
	}
	return out
}

type harness struct {
	sched  *timer.Fake
	out    *gpio.FakeWriter
	level  *gpio.FakeLevel
	rec    *recorder
	events []valve.Event
	ctrl   *Controller
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FillBudget = time.Minute
	cfg.WaterChangeFillBudget = 10 * time.Minute
	return cfg
}

func newHarness(t *testing.T, full bool, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sched: timer.NewFake(start),
		out:   gpio.NewFakeWriter(),
		level: gpio.NewFakeLevel(full),
		rec:   &recorder{},
	}
	ctrl, err := New(cfg, Deps{
		Scheduler: h.sched,
		Clock:     h.sched,
		Outputs:   h.out,
		Level:     h.level,
		Notifier:  h.rec,
		Alerter:   h.rec,
		Observers: []valve.Observer{func(e valve.Event) { h.events = append(h.events, e) }},
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	h.out.Reset()
	return h
}

func (h *harness) status(t *testing.T, name string) valve.Status {
	t.Helper()
	st, err := h.ctrl.Status(name)
	require.NoError(t, err)
	return st
}

func (h *harness) opens(name string) int {
	n := 0
	for _, e := range h.events {
		if e.Valve == name && e.Status == valve.StatusOpen {
			n++
		}
	}
	return n
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillCheckInterval = 0
	_, err := New(cfg, Deps{Scheduler: timer.NewFake(start), Outputs: gpio.NewFakeWriter(), Level: gpio.NewFakeLevel(false)})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.FillPin = cfg.DrainPin
	_, err = New(cfg, Deps{Scheduler: timer.NewFake(start), Outputs: gpio.NewFakeWriter(), Level: gpio.NewFakeLevel(false)})
	assert.Error(t, err)

	_, err = New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestStartPublishesStateAndArmsTopOff(t *testing.T) {
	h := newHarness(t, true, testConfig())

	require.NoError(t, h.ctrl.Start())

	assert.Equal(t, []string{`{"state":"closed"}`}, h.rec.notesFor("valve/drain"))
	assert.Equal(t, []string{`{"state":"closed"}`}, h.rec.notesFor("valve/fill"))
	assert.True(t, h.sched.Scheduled(JobTopOff))
}

func TestStopClosesValvesAndCancelsJobs(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Start())
	require.NoError(t, h.ctrl.Open(ValveFill))

	require.NoError(t, h.ctrl.Stop())

	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
	assert.False(t, h.out.IsOn(gpio.DefaultPinFill))
	assert.Empty(t, h.sched.Jobs())
}

func TestFillPrecheckRefusesFullTank(t *testing.T) {
	h := newHarness(t, true, testConfig())

	err := h.ctrl.Open(ValveFill)

	assert.ErrorIs(t, err, valve.ErrPrecheckRefused)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
	assert.Empty(t, h.out.Writes(), "actuator must not be energized")
	assert.False(t, h.sched.Scheduled(JobFillMonitor))
}

func TestFillMonitorArmedWhileOpen(t *testing.T) {
	h := newHarness(t, false, testConfig())

	require.NoError(t, h.ctrl.Open(ValveFill))
	assert.True(t, h.sched.Scheduled(JobFillMonitor))
	assert.True(t, h.out.IsOn(gpio.DefaultPinFill))

	require.NoError(t, h.ctrl.Close(ValveFill))
	assert.False(t, h.sched.Scheduled(JobFillMonitor))
}

func TestFillClosesWhenFull(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))

	h.sched.Advance(3 * time.Second)
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveFill))

	h.level.SetFull(true)
	h.sched.Advance(time.Second)

	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
	assert.False(t, h.out.IsOn(gpio.DefaultPinFill))
	assert.False(t, h.ctrl.LockedOut())
	assert.Empty(t, h.rec.alertKinds())
	assert.Equal(t, ReasonTankFull, h.events[len(h.events)-1].Reason)
	assert.Equal(t,
		[]string{`{"full":false}`, `{"full":false}`, `{"full":false}`, `{"full":true}`},
		h.rec.notesFor(DeviceWaterLevel), "each monitor firing republishes the level")
}

func TestFillTimeoutLocksOut(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))

	h.sched.Advance(time.Minute)
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveFill), "exactly at budget is still allowed")

	h.sched.Advance(time.Second)

	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
	assert.True(t, h.ctrl.LockedOut())
	assert.Equal(t, []AlertKind{AlertFillTimeout}, h.rec.alertKinds())
	assert.False(t, h.sched.Scheduled(JobFillMonitor))
	assert.Equal(t, time.Minute, h.ctrl.Snapshot().FillBudget, "budget restored on close")

	h.sched.Advance(10 * time.Minute)
	assert.Len(t, h.rec.alertKinds(), 1)
}

func TestLockoutBlocksAutomatedPathsOnly(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.sched.Advance(61 * time.Second)
	require.True(t, h.ctrl.LockedOut())

	h.ctrl.topOff()
	assert.Equal(t, TopOffLockedOut, h.ctrl.Snapshot().LastTopOff)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))

	h.level.SetFull(true)
	assert.ErrorIs(t, h.ctrl.ChangeWater(30*time.Second), ErrLockedOut)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveDrain))

	// Manual requests are never gated.
	h.level.SetFull(false)
	require.NoError(t, h.ctrl.Open(ValveFill))
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveFill))
}

func TestLockoutClearedByFullClose(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.sched.Advance(61 * time.Second)
	require.True(t, h.ctrl.LockedOut())

	// An operator refill that ends on a real full reading clears the fault.
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.sched.Advance(5 * time.Second)
	require.True(t, h.ctrl.LockedOut(), "still locked while filling")

	h.level.SetFull(true)
	h.sched.Advance(time.Second)

	assert.False(t, h.ctrl.LockedOut())
	assert.Equal(t, time.Minute, h.ctrl.Snapshot().FillBudget)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
}

func TestManualCloseDoesNotClearLockout(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.sched.Advance(61 * time.Second)
	require.True(t, h.ctrl.LockedOut())

	require.NoError(t, h.ctrl.Open(ValveFill))
	require.NoError(t, h.ctrl.Close(ValveFill))
	assert.True(t, h.ctrl.LockedOut())
}

func TestDrainCeiling(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveDrain))

	h.sched.Advance(5*time.Minute - time.Second)
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveDrain))
	assert.Empty(t, h.rec.alertKinds())

	h.sched.Advance(time.Second)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveDrain))
	assert.Equal(t, []AlertKind{AlertDrainTimeout}, h.rec.alertKinds())

	h.sched.Advance(time.Hour)
	assert.Len(t, h.rec.alertKinds(), 1, "one alert per open episode")

	require.NoError(t, h.ctrl.Open(ValveDrain))
	h.sched.Advance(5 * time.Minute)
	assert.Len(t, h.rec.alertKinds(), 2, "a new episode gets its own alert")
}

func TestDrainClosedEarlyCancelsMonitor(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveDrain))
	h.sched.Advance(time.Minute)
	require.NoError(t, h.ctrl.Close(ValveDrain))

	assert.False(t, h.sched.Scheduled(JobDrainMonitor))
	h.sched.Advance(time.Hour)
	assert.Empty(t, h.rec.alertKinds())
}

func TestStaleDrainFiringSparesNewEpisode(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveDrain))
	first := start

	h.sched.Advance(time.Minute)
	require.NoError(t, h.ctrl.Close(ValveDrain))
	require.NoError(t, h.ctrl.Open(ValveDrain))

	// A firing armed by the first episode that lost the race with Close.
	h.ctrl.drainTimeout(first)
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveDrain))
	assert.Empty(t, h.rec.alertKinds())

	h.sched.Advance(5 * time.Minute)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveDrain))
	assert.Equal(t, []AlertKind{AlertDrainTimeout}, h.rec.alertKinds())
}

func TestFailedReleaseIsRetriedUntilLineDrops(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.out.SetError(errors.New("bus error"))

	assert.Error(t, h.ctrl.Close(ValveFill))
	assert.True(t, h.out.IsOn(gpio.DefaultPinFill))
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveFill))
	assert.True(t, h.sched.Scheduled(JobFillMonitor), "monitor stays armed")
	assert.True(t, h.sched.Scheduled(JobRelease(ValveFill)))
	assert.Equal(t, []AlertKind{AlertReleaseFailed}, h.rec.alertKinds())

	h.sched.Advance(3 * time.Second)
	assert.Len(t, h.rec.alertKinds(), 1, "one alert per failed release")
	assert.True(t, h.out.IsOn(gpio.DefaultPinFill))

	h.out.SetError(nil)
	h.sched.Advance(10 * time.Minute)

	assert.False(t, h.out.IsOn(gpio.DefaultPinFill))
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
	assert.False(t, h.sched.Scheduled(JobFillMonitor))
	assert.False(t, h.sched.Scheduled(JobRelease(ValveFill)))
	assert.Equal(t, []AlertKind{AlertReleaseFailed}, h.rec.alertKinds())
	assert.False(t, h.ctrl.LockedOut())
}

func TestFailedReleaseBlocksSibling(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.out.SetError(errors.New("bus error"))

	err := h.ctrl.Open(ValveDrain)

	assert.ErrorIs(t, err, valve.ErrInterlock)
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveDrain))
	assert.False(t, h.sched.Scheduled(JobDrainMonitor))
	assert.True(t, h.sched.Scheduled(JobRelease(ValveFill)))
}

func TestFillTimeoutWithFailedRelease(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.out.SetError(errors.New("bus error"))

	h.sched.Advance(time.Minute + time.Second)
	assert.True(t, h.ctrl.LockedOut())
	assert.ElementsMatch(t, []AlertKind{AlertReleaseFailed, AlertFillTimeout}, h.rec.alertKinds())

	h.sched.Advance(30 * time.Second)
	assert.Len(t, h.rec.alertKinds(), 2, "the retry job owns the valve until it releases")

	h.out.SetError(nil)
	h.sched.Advance(time.Second)
	assert.False(t, h.out.IsOn(gpio.DefaultPinFill))
	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
}

func TestMonitorsAreNoopsWhenValveClosed(t *testing.T) {
	h := newHarness(t, false, testConfig())

	h.ctrl.checkFill()
	h.ctrl.drainTimeout(start)

	assert.Empty(t, h.events)
	assert.Empty(t, h.rec.alertKinds())
	assert.Empty(t, h.out.Writes())
}

func TestOpeningFillClosesDrain(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveDrain))
	require.NoError(t, h.ctrl.Open(ValveFill))

	assert.Equal(t, valve.StatusClosed, h.status(t, ValveDrain))
	assert.Equal(t, valve.StatusOpen, h.status(t, ValveFill))
	assert.False(t, h.sched.Scheduled(JobDrainMonitor))
	assert.True(t, h.sched.Scheduled(JobFillMonitor))
}

func TestSensorErrorCountsAsNotFull(t *testing.T) {
	h := newHarness(t, true, testConfig())
	h.level.SetError(errors.New("i2c timeout"))

	require.NoError(t, h.ctrl.Open(ValveFill), "a failed read never counts as full")
	require.NoError(t, h.ctrl.Close(ValveFill))

	err := h.ctrl.ChangeWater(30 * time.Second)
	assert.ErrorIs(t, err, ErrRefused, "water change needs a confirmed full tank")
}

func TestSensorErrorFillStillBoundedByBudget(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveFill))
	h.level.SetError(errors.New("i2c timeout"))

	h.sched.Advance(61 * time.Second)

	assert.Equal(t, valve.StatusClosed, h.status(t, ValveFill))
	assert.True(t, h.ctrl.LockedOut())
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, false, testConfig())
	require.NoError(t, h.ctrl.Open(ValveDrain))

	s := h.ctrl.Snapshot()

	require.Len(t, s.Valves, 2)
	assert.Equal(t, ValveDrain, s.Valves[0].Name)
	assert.Equal(t, valve.StatusOpen, s.Valves[0].Status)
	assert.Equal(t, start, s.Valves[0].OpenedAt)
	assert.Equal(t, gpio.DefaultPinDrain, s.Valves[0].Channel)
	assert.Equal(t, valve.StatusClosed, s.Valves[1].Status)
	assert.False(t, s.TankFull)
	assert.False(t, s.LockedOut)
	assert.Equal(t, time.Minute, s.FillBudget)
	assert.False(t, s.WaterChangePending)
}
