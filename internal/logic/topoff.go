package logic

import (
	"errors"
	"log"

	"github.com/sweeney/tank-controller/internal/valve"
)

// topOff opens the fill valve for a short, bounded fill when the tank is
// low, idle and not locked out.
func (c *Controller) topOff() {
	var outcome TopOffOutcome
	c.valves.Update(func(tx *valve.Tx) error {
		outcome = c.tryTopOff(tx)
		c.lastTopOff = outcome
		c.lastTopOffAt = c.clock.Now()
		return nil
	})
	log.Printf("logic: top-off: %s", outcome)
}

func (c *Controller) tryTopOff(tx *valve.Tx) TopOffOutcome {
	if c.fill.lockedOut {
		return TopOffLockedOut
	}
	if _, busy := tx.OpenValve(); busy || c.sched.Scheduled(JobWaterChange) {
		return TopOffBusy
	}
	if c.tankFull() {
		return TopOffTankFull
	}

	c.fill.setBudget(c.cfg.TopOffBudget)
	if err := tx.Open(ValveFill, ReasonTopOff); err != nil {
		c.fill.restoreBudget()
		if errors.Is(err, valve.ErrPrecheckRefused) {
			return TopOffTankFull
		}
		log.Printf("logic: top-off: %v", err)
		return TopOffFailed
	}
	return TopOffStarted
}
