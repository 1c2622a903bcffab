package timer

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Scheduler and Clock for tests. Time only moves
// when Advance is called, and due jobs run synchronously on the caller's
// goroutine in firing order.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	seq  uint64
	jobs map[string]*fakeJob
}

type fakeJob struct {
	id      string
	trigger Trigger
	fn      func()
	next    time.Time
	seq     uint64
}

// NewFake creates a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, jobs: make(map[string]*fakeJob)}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Schedule registers fn under id, replacing any existing job.
func (f *Fake) Schedule(id string, tr Trigger, fn func()) error {
	if err := tr.validate(); err != nil {
		return fmt.Errorf("schedule %q: %w", id, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.jobs[id] = &fakeJob{id: id, trigger: tr, fn: fn, next: tr.Next(f.now), seq: f.seq}
	return nil
}

// Cancel removes the job registered under id.
func (f *Fake) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
}

// Scheduled reports whether id is registered.
func (f *Fake) Scheduled(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[id]
	return ok
}

// Jobs returns the registered ids, sorted.
func (f *Fake) Jobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.jobs))
	for id := range f.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextFire returns when the job under id is next due.
func (f *Fake) NextFire(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	return j.next, true
}

// Fire runs the job under id immediately without moving the clock or its
// schedule. It returns false if no such job is registered.
func (f *Fake) Fire(id string) bool {
	f.mu.Lock()
	j, ok := f.jobs[id]
	f.mu.Unlock()
	if !ok {
		return false
	}
	run(j.id, j.fn)
	return true
}

// Advance moves the clock forward by d, running every job that falls due on
// the way. The clock is set to each job's due time before it runs.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		j := f.nextDue(target)
		if j == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = j.next
		j.next = j.trigger.Next(j.next)
		f.mu.Unlock()

		run(j.id, j.fn)
	}
}

// nextDue returns the earliest job due at or before target. Ties go to the
// job scheduled first. Caller holds f.mu.
func (f *Fake) nextDue(target time.Time) *fakeJob {
	var best *fakeJob
	for _, j := range f.jobs {
		if j.next.After(target) {
			continue
		}
		if best == nil || j.next.Before(best.next) || (j.next.Equal(best.next) && j.seq < best.seq) {
			best = j
		}
	}
	return best
}
