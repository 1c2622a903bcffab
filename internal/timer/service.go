package timer

import (
	"fmt"
	"sync"
	"time"
)

// Service is the real Scheduler. Each job runs on its own goroutine, so
// firings of one job never overlap while different jobs fire independently.
type Service struct {
	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
	wg      sync.WaitGroup
}

type job struct {
	id      string
	trigger Trigger
	fn      func()
	stop    chan struct{}
}

// NewService creates an empty Service.
func NewService() *Service {
	return &Service{jobs: make(map[string]*job)}
}

// Now returns the wall clock, so a Service can double as the controller's Clock.
func (s *Service) Now() time.Time { return time.Now() }

// Schedule registers fn under id, replacing any existing job.
func (s *Service) Schedule(id string, tr Trigger, fn func()) error {
	if err := tr.validate(); err != nil {
		return fmt.Errorf("schedule %q: %w", id, err)
	}
	j := &job{id: id, trigger: tr, fn: fn, stop: make(chan struct{})}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if old, ok := s.jobs[id]; ok {
		close(old.stop)
	}
	s.jobs[id] = j
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(j)
	return nil
}

// Cancel stops the job registered under id. A firing already in progress
// runs to completion; the job never fires again.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		close(j.stop)
		delete(s.jobs, id)
	}
}

// Scheduled reports whether id is registered.
func (s *Service) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Stop cancels every job and waits for running callbacks to return.
// Must not be called from inside a job.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, j := range s.jobs {
		close(j.stop)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) loop(j *job) {
	defer s.wg.Done()

	next := j.trigger.Next(time.Now())
	t := time.NewTimer(time.Until(next))
	defer t.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-t.C:
		}
		// Cancel may have raced the timer.
		select {
		case <-j.stop:
			return
		default:
		}

		run(j.id, j.fn)

		// Skip firings missed while the callback ran.
		now := time.Now()
		for next = j.trigger.Next(next); !next.After(now); next = j.trigger.Next(next) {
		}
		t.Reset(time.Until(next))
	}
}
