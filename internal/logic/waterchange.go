package logic

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/tank-controller/internal/timer"
	"github.com/sweeney/tank-controller/internal/valve"
)

// ChangeWater drains the tank for d, then closes the drain and opens the
// fill valve. The refill runs under the water-change fill budget and is
// ended by the fill monitor.
//
// Returns ErrInvalidDuration unless 0 < d < DrainCeiling, ErrLockedOut while
// a fill fault stands, and an error wrapping ErrRefused if the tank is not
// full, a valve is already open or a water change is already under way.
func (c *Controller) ChangeWater(d time.Duration) error {
	if d <= 0 || d >= c.cfg.DrainCeiling {
		return fmt.Errorf("%w: %v must be above 0 and below the drain ceiling %v", ErrInvalidDuration, d, c.cfg.DrainCeiling)
	}

	return c.valves.Update(func(tx *valve.Tx) error {
		if c.fill.lockedOut {
			return ErrLockedOut
		}
		if c.sched.Scheduled(JobWaterChange) {
			return fmt.Errorf("%w: water change already in progress", ErrRefused)
		}
		if name, open := tx.OpenValve(); open {
			return fmt.Errorf("%w: %s valve already open", ErrRefused, name)
		}
		if !c.tankFull() {
			return fmt.Errorf("%w: tank is not full", ErrRefused)
		}

		if err := tx.Open(ValveDrain, ReasonWaterChange); err != nil {
			return fmt.Errorf("open drain: %w", err)
		}
		c.fill.setBudget(c.cfg.WaterChangeFillBudget)

		if err := timer.Once(c.sched, JobWaterChange, d, c.finishDrain); err != nil {
			c.fill.restoreBudget()
			if cerr := tx.Close(ValveDrain, ReasonWaterChange); cerr != nil {
				log.Printf("logic: %v", cerr)
			}
			return fmt.Errorf("schedule drain completion: %w", err)
		}

		log.Printf("logic: water change started, draining for %v", d)
		return nil
	})
}

// finishDrain is the water change's second phase.
func (c *Controller) finishDrain() {
	var alert *Alert
	c.valves.Update(func(tx *valve.Tx) error {
		if err := tx.Close(ValveDrain, ReasonWaterChange); err != nil {
			log.Printf("logic: %v", err)
		}

		reason := ""
		if c.fill.lockedOut {
			reason = ErrLockedOut.Error()
		} else if err := tx.Open(ValveFill, ReasonWaterChange); err != nil {
			reason = err.Error()
		}
		if reason == "" {
			log.Printf("logic: water change drain complete, refilling")
			return nil
		}

		c.fill.restoreBudget()
		alert = &Alert{
			Time:    c.clock.Now(),
			Kind:    AlertWaterChangeAborted,
			Valve:   ValveFill,
			Message: "water change refill not started: " + reason,
		}
		return nil
	})

	if alert != nil {
		c.raise(*alert)
	}
}
