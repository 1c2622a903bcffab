package logic

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/tank-controller/internal/timer"
	"github.com/sweeney/tank-controller/internal/valve"
)

// FillPolicy holds the fault lockout flag and the current fill budget.
// It has no lock of its own: every access happens under the valve registry
// lock, the same lock that serializes fill valve transitions.
type FillPolicy struct {
	lockedOut     bool
	budget        time.Duration
	defaultBudget time.Duration
}

func newFillPolicy(defaultBudget time.Duration) *FillPolicy {
	return &FillPolicy{budget: defaultBudget, defaultBudget: defaultBudget}
}

func (p *FillPolicy) setBudget(d time.Duration) { p.budget = d }
func (p *FillPolicy) restoreBudget()           { p.budget = p.defaultBudget }

// fillValve is the fill solenoid's safety posture: never open into a full
// tank, and watch it with the fill monitor while open.
type fillValve struct{ c *Controller }

func (f fillValve) Precheck() bool { return !f.c.tankFull() }

func (f fillValve) OnOpen() {
	if err := f.c.sched.Schedule(JobFillMonitor, timer.Every(f.c.cfg.FillCheckInterval), f.c.checkFill); err != nil {
		log.Printf("logic: arm fill monitor: %v", err)
	}
}

func (f fillValve) OnClose() {
	f.c.sched.Cancel(JobFillMonitor)
	f.c.sched.Cancel(JobRelease(ValveFill))
	f.c.fill.restoreBudget()
}

func (f fillValve) OnCloseFailed(reason string, err error) {
	f.c.releaseFailed(ValveFill, reason, err)
}

// drainValve has no precondition; the drain monitor is its backstop.
type drainValve struct{ c *Controller }

func (d drainValve) Precheck() bool { return true }

// OnOpen arms the drain monitor for this open episode only.
func (d drainValve) OnOpen() {
	openedAt := d.c.drain.OpenedAt()
	err := d.c.sched.Schedule(JobDrainMonitor, timer.Every(d.c.cfg.DrainCeiling), func() {
		d.c.drainTimeout(openedAt)
	})
	if err != nil {
		log.Printf("logic: arm drain monitor: %v", err)
	}
}

func (d drainValve) OnClose() {
	d.c.sched.Cancel(JobDrainMonitor)
	d.c.sched.Cancel(JobRelease(ValveDrain))
}

func (d drainValve) OnCloseFailed(reason string, err error) {
	d.c.releaseFailed(ValveDrain, reason, err)
}

// checkFill is the fill monitor. It closes the fill valve once the tank is
// full, or when the valve has been open longer than the budget, in which
// case auto fill is locked out until a later fill ends on a full tank.
func (c *Controller) checkFill() {
	full := c.tankFull()
	c.notify(DeviceWaterLevel, LevelPayload(full))

	var alert *Alert
	c.valves.Update(func(tx *valve.Tx) error {
		v := tx.Valve(ValveFill)
		if !v.IsOpen() || c.sched.Scheduled(JobRelease(ValveFill)) {
			return nil
		}

		if full {
			log.Printf("logic: tank full after %v, closing fill", v.OpenDuration().Round(time.Second))
			if err := tx.Close(ValveFill, ReasonTankFull); err != nil {
				log.Printf("logic: %v", err)
			}
			c.fill.lockedOut = false
			c.fill.restoreBudget()
			return nil
		}

		open, budget := v.OpenDuration(), c.fill.budget
		if open <= budget {
			return nil
		}
		if err := tx.Close(ValveFill, ReasonFillTimeout); err != nil {
			log.Printf("logic: %v", err)
		}
		c.fill.lockedOut = true
		alert = &Alert{
			Time:    c.clock.Now(),
			Kind:    AlertFillTimeout,
			Valve:   ValveFill,
			Message: fmt.Sprintf("fill valve open %v without reaching full (budget %v); auto fill locked out", open.Round(time.Second), budget),
		}
		return nil
	})

	if alert != nil {
		c.raise(*alert)
	}
}

// drainTimeout is the drain monitor: it fires once the drain has been open
// for the full ceiling and force-closes it. openedAt pins the firing to the
// episode that armed it.
func (c *Controller) drainTimeout(openedAt time.Time) {
	var alert *Alert
	c.valves.Update(func(tx *valve.Tx) error {
		v := tx.Valve(ValveDrain)
		if !v.IsOpen() || !v.OpenedAt().Equal(openedAt) || c.sched.Scheduled(JobRelease(ValveDrain)) {
			return nil
		}
		open := v.OpenDuration()
		if err := tx.Close(ValveDrain, ReasonDrainTimeout); err != nil {
			log.Printf("logic: %v", err)
		}
		alert = &Alert{
			Time:    c.clock.Now(),
			Kind:    AlertDrainTimeout,
			Valve:   ValveDrain,
			Message: fmt.Sprintf("drain valve force-closed after %v", open.Round(time.Second)),
		}
		return nil
	})

	if alert != nil {
		c.raise(*alert)
	}
}

// releaseFailed runs under the registry lock when a valve's release write
// fails. The valve stays open with its monitor armed, and a retry job
// repeats the close every fill check interval until the line drops.
func (c *Controller) releaseFailed(name, reason string, err error) {
	id := JobRelease(name)
	if c.sched.Scheduled(id) {
		return
	}
	serr := c.sched.Schedule(id, timer.Every(c.cfg.FillCheckInterval), func() {
		c.retryRelease(name, reason)
	})
	if serr != nil {
		log.Printf("logic: arm %s: %v", id, serr)
	}
	c.raise(Alert{
		Time:    c.clock.Now(),
		Kind:    AlertReleaseFailed,
		Valve:   name,
		Message: fmt.Sprintf("%s valve did not release (%s): %v", name, reason, err),
	})
}

func (c *Controller) retryRelease(name, reason string) {
	c.valves.Update(func(tx *valve.Tx) error {
		if err := tx.Close(name, reason); err != nil {
			log.Printf("logic: retry: %v", err)
			return nil
		}
		c.sched.Cancel(JobRelease(name))
		log.Printf("logic: %s released on retry", name)
		return nil
	})
}
