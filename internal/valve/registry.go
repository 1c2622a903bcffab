package valve

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Clock supplies the time used for opened_at stamps.
type Clock interface {
	Now() time.Time
}

// Registry holds every valve and serializes all transitions behind one lock.
// Iteration order is registration order.
type Registry struct {
	mu        sync.Mutex
	clock     Clock
	order     []*Valve
	byName    map[string]*Valve
	observers []Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(clock Clock, observers ...Observer) *Registry {
	return &Registry{
		clock:     clock,
		byName:    make(map[string]*Valve),
		observers: observers,
	}
}

// Observe adds an observer for subsequent transitions.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Add registers a closed valve and drives its output low.
func (r *Registry) Add(name string, act *Actuator, p Policy) (*Valve, error) {
	if p == nil {
		p = NopPolicy{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("add %s: already registered", name)
	}
	if err := act.Off(); err != nil {
		return nil, fmt.Errorf("add %s: %w", name, err)
	}
	v := &Valve{name: name, actuator: act, policy: p, clock: r.clock, status: StatusClosed}
	r.order = append(r.order, v)
	r.byName[name] = v
	return v, nil
}

// Open opens the named valve; see Tx.Open.
func (r *Registry) Open(name, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open(name, reason)
}

// Close closes the named valve; see Tx.Close.
func (r *Registry) Close(name, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.lookup(name)
	if err != nil {
		return err
	}
	return r.close(v, reason)
}

// Status returns the named valve's state.
func (r *Registry) Status(name string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	return v.status, nil
}

// Names returns the registered valve names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.order))
	for i, v := range r.order {
		names[i] = v.name
	}
	return names
}

// States returns a copy of every valve's state.
func (r *Registry) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states()
}

// Update runs fn with the registry lock held, so a check followed by a
// transition happens atomically. The Tx must not escape fn.
func (r *Registry) Update(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Tx{r: r})
}

// Shutdown closes every valve. Errors are collected, not short-circuited.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, v := range r.order {
		if err := r.close(v, ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %v", errs)
	}
	return nil
}

// Tx is a view of the registry with the lock already held.
type Tx struct {
	r *Registry
}

// Open closes every other open valve, then evaluates the precheck, then
// energizes the actuator, stamps opened_at and runs OnOpen.
// Opening an open valve is a no-op. If another valve cannot be released the
// open is refused with ErrInterlock.
func (tx *Tx) Open(name, reason string) error { return tx.r.open(name, reason) }

// Close de-energizes the actuator, clears opened_at and runs OnClose.
// Closing a closed valve performs no I/O and does not run OnClose. If the
// release write fails the valve stays open and OnCloseFailed runs instead.
func (tx *Tx) Close(name, reason string) error {
	v, err := tx.r.lookup(name)
	if err != nil {
		return err
	}
	return tx.r.close(v, reason)
}

// Valve returns the named valve, or nil if unknown.
func (tx *Tx) Valve(name string) *Valve { return tx.r.byName[name] }

// OpenValve returns the name of the open valve, if any.
func (tx *Tx) OpenValve() (string, bool) {
	for _, v := range tx.r.order {
		if v.status == StatusOpen {
			return v.name, true
		}
	}
	return "", false
}

// States returns a copy of every valve's state.
func (tx *Tx) States() []State { return tx.r.states() }

func (r *Registry) lookup(name string) (*Valve, error) {
	v, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownValve, name)
	}
	return v, nil
}

func (r *Registry) states() []State {
	out := make([]State, len(r.order))
	for i, v := range r.order {
		out[i] = v.state()
	}
	return out
}

func (r *Registry) open(name, reason string) error {
	v, err := r.lookup(name)
	if err != nil {
		return err
	}

	for _, other := range r.order {
		if other == v || (other.status != StatusOpen && !other.actuator.Energized()) {
			continue
		}
		if err := r.close(other, ReasonInterlock); err != nil {
			log.Printf("valve: refusing to open %s: %s not released: %v", v.name, other.name, err)
			return fmt.Errorf("open %s: %w: %w", v.name, ErrInterlock, err)
		}
	}

	if v.status == StatusOpen {
		return nil
	}

	if !v.policy.Precheck() {
		log.Printf("valve: refusing to open %s: precheck failed", v.name)
		return fmt.Errorf("open %s: %w", v.name, ErrPrecheckRefused)
	}

	if err := v.actuator.On(); err != nil {
		if offErr := v.actuator.Off(); offErr != nil {
			log.Printf("valve: %s: %v", v.name, offErr)
		}
		return fmt.Errorf("open %s: %w", v.name, err)
	}
	v.status = StatusOpen
	v.openedAt = r.clock.Now()
	log.Printf("valve: %s open (%s)", v.name, reason)

	v.policy.OnOpen()
	r.emit(Event{Valve: v.name, Status: StatusOpen, At: v.openedAt, Reason: reason})
	return nil
}

func (r *Registry) close(v *Valve, reason string) error {
	wasOpen := v.status == StatusOpen
	if !wasOpen && !v.actuator.Energized() {
		return nil
	}

	// A valve whose line may still be high stays open until a release
	// write succeeds.
	if err := v.actuator.Off(); err != nil {
		log.Printf("valve: %s not released (%s): %v", v.name, reason, err)
		v.policy.OnCloseFailed(reason, err)
		return fmt.Errorf("close %s: %w", v.name, err)
	}
	if !wasOpen {
		return nil
	}

	v.status = StatusClosed
	v.openedAt = time.Time{}
	log.Printf("valve: %s closed (%s)", v.name, reason)

	v.policy.OnClose()
	r.emit(Event{Valve: v.name, Status: StatusClosed, At: r.clock.Now(), Reason: reason})
	return nil
}

func (r *Registry) emit(e Event) {
	for _, o := range r.observers {
		o(e)
	}
}
