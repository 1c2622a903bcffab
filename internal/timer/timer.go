// Package timer runs named jobs on a fixed period or on wall-clock minute
// boundaries.
//
// Jobs are keyed by id. Scheduling an id that is already registered replaces
// the old job (last writer wins), and cancelling an unknown id is a no-op.
// A job that panics is recovered and logged; it keeps its schedule and other
// jobs are unaffected.
package timer

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrStopped is returned by Schedule after the service has been stopped.
var ErrStopped = errors.New("timer: service stopped")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. time.Now carries a monotonic reading, so
// durations between two values are immune to clock steps.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Kind selects how a Trigger computes its firings.
type Kind int

const (
	// KindInterval fires every Period, starting one Period after scheduling.
	KindInterval Kind = iota
	// KindCron fires on wall-clock minute boundaries.
	KindCron
)

// Trigger describes when a job fires.
type Trigger struct {
	Kind   Kind
	Period time.Duration // KindInterval
	Minute int           // KindCron: minute past the hour, or -1 for every minute
}

// Every returns an interval trigger.
func Every(d time.Duration) Trigger {
	return Trigger{Kind: KindInterval, Period: d}
}

// EveryMinute returns a trigger that fires at second zero of every minute.
func EveryMinute() Trigger {
	return Trigger{Kind: KindCron, Minute: -1}
}

// AtMinute returns a trigger that fires once an hour at minute m.
func AtMinute(m int) Trigger {
	return Trigger{Kind: KindCron, Minute: m}
}

func (tr Trigger) validate() error {
	switch tr.Kind {
	case KindInterval:
		if tr.Period <= 0 {
			return fmt.Errorf("invalid period %v", tr.Period)
		}
	case KindCron:
		if tr.Minute < -1 || tr.Minute > 59 {
			return fmt.Errorf("invalid minute %d", tr.Minute)
		}
	default:
		return fmt.Errorf("unknown trigger kind %d", tr.Kind)
	}
	return nil
}

// Next returns the first firing strictly after t.
func (tr Trigger) Next(t time.Time) time.Time {
	if tr.Kind != KindCron {
		return t.Add(tr.Period)
	}
	next := t.Truncate(time.Minute).Add(time.Minute)
	if tr.Minute < 0 {
		return next
	}
	for next.Minute() != tr.Minute {
		next = next.Add(time.Minute)
	}
	return next
}

// Scheduler registers and cancels named jobs.
type Scheduler interface {
	// Schedule registers fn to run at the times implied by tr, replacing any
	// job already registered under id.
	Schedule(id string, tr Trigger, fn func()) error

	// Cancel removes the job. Unknown ids are ignored.
	Cancel(id string)

	// Scheduled reports whether a job is registered under id.
	Scheduled(id string) bool
}

// Once schedules fn to run a single time after d. The job removes itself
// before fn runs, so a job id seen by Scheduled is always still pending.
func Once(s Scheduler, id string, d time.Duration, fn func()) error {
	return s.Schedule(id, Every(d), func() {
		s.Cancel(id)
		fn()
	})
}

// run invokes fn, recovering and logging a panic.
func run(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("timer: job %q panicked: %v", id, r)
		}
	}()
	fn()
}
