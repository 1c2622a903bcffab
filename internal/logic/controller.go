package logic

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/tank-controller/internal/gpio"
	"github.com/sweeney/tank-controller/internal/timer"
	"github.com/sweeney/tank-controller/internal/valve"
)

// Config holds the controller's timing and wiring.
type Config struct {
	DrainPin int
	FillPin  int

	// FillCheckInterval is the fill monitor's cadence.
	FillCheckInterval time.Duration
	// FillBudget is the default maximum time the fill valve may stay open.
	FillBudget time.Duration
	// DrainCeiling is the maximum time the drain valve may stay open.
	DrainCeiling time.Duration
	// WaterChangeFillBudget replaces FillBudget for the refill after a water change.
	WaterChangeFillBudget time.Duration
	// TopOffInterval is how often a top-off is attempted.
	TopOffInterval time.Duration
	// TopOffBudget replaces FillBudget for a top-off.
	TopOffBudget time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		DrainPin:              gpio.DefaultPinDrain,
		FillPin:               gpio.DefaultPinFill,
		FillCheckInterval:     time.Second,
		FillBudget:            5 * time.Minute,
		DrainCeiling:          5 * time.Minute,
		WaterChangeFillBudget: 30 * time.Minute,
		TopOffInterval:        15 * time.Minute,
		TopOffBudget:          30 * time.Second,
	}
}

func (c Config) validate() error {
	for name, d := range map[string]time.Duration{
		"fill check interval":      c.FillCheckInterval,
		"fill budget":              c.FillBudget,
		"drain ceiling":            c.DrainCeiling,
		"water change fill budget": c.WaterChangeFillBudget,
		"top-off interval":         c.TopOffInterval,
		"top-off budget":           c.TopOffBudget,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.DrainPin == c.FillPin {
		return fmt.Errorf("drain and fill share pin %d", c.DrainPin)
	}
	return nil
}

// Deps are the controller's collaborators. Notifier and Alerter may be nil.
type Deps struct {
	Scheduler timer.Scheduler
	Clock     timer.Clock
	Outputs   gpio.Writer
	Level     LevelSensor
	Notifier  Notifier
	Alerter   Alerter
	Observers []valve.Observer
}

// Controller owns the two valves, the fill policy and their timer jobs.
type Controller struct {
	cfg      Config
	sched    timer.Scheduler
	clock    timer.Clock
	level    LevelSensor
	notifier Notifier
	alerter  Alerter
	valves   *valve.Registry
	drain    *valve.Valve

	// Guarded by the valve registry lock.
	fill         *FillPolicy
	lastTopOff   TopOffOutcome
	lastTopOffAt time.Time
}

// New builds a controller with both valves closed. Call Start to begin the
// periodic top-off.
func New(cfg Config, d Deps) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if d.Scheduler == nil || d.Outputs == nil || d.Level == nil {
		return nil, errors.New("scheduler, outputs and level sensor are required")
	}
	if d.Clock == nil {
		d.Clock = timer.SystemClock{}
	}

	c := &Controller{
		cfg:      cfg,
		sched:    d.Scheduler,
		clock:    d.Clock,
		level:    d.Level,
		notifier: d.Notifier,
		alerter:  d.Alerter,
		fill:     newFillPolicy(cfg.FillBudget),
	}

	c.valves = valve.NewRegistry(d.Clock, c.publishValve)
	for _, o := range d.Observers {
		c.valves.Observe(o)
	}
	drain, err := c.valves.Add(ValveDrain, valve.NewActuator(d.Outputs, cfg.DrainPin), drainValve{c})
	if err != nil {
		return nil, err
	}
	c.drain = drain
	if _, err := c.valves.Add(ValveFill, valve.NewActuator(d.Outputs, cfg.FillPin), fillValve{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// Start publishes the initial valve states and arms the top-off job.
func (c *Controller) Start() error {
	for _, s := range c.valves.States() {
		c.notify(DeviceValve(s.Name), ValvePayload(s.Status))
	}
	if err := c.sched.Schedule(JobTopOff, timer.Every(c.cfg.TopOffInterval), c.topOff); err != nil {
		return fmt.Errorf("arm top-off: %w", err)
	}
	return nil
}

// Stop cancels every controller job and closes both valves.
func (c *Controller) Stop() error {
	for _, id := range []string{JobTopOff, JobWaterChange, JobFillMonitor, JobDrainMonitor} {
		c.sched.Cancel(id)
	}
	err := c.valves.Shutdown()
	c.sched.Cancel(JobRelease(ValveDrain))
	c.sched.Cancel(JobRelease(ValveFill))
	return err
}

// Open opens a valve on operator request. Not gated by the lockout.
func (c *Controller) Open(name string) error {
	return c.valves.Open(name, ReasonRequest)
}

// Close closes a valve on operator request.
func (c *Controller) Close(name string) error {
	return c.valves.Close(name, ReasonRequest)
}

// Status returns a valve's state.
func (c *Controller) Status(name string) (valve.Status, error) {
	return c.valves.Status(name)
}

// Valves returns the valve names.
func (c *Controller) Valves() []string {
	return c.valves.Names()
}

// LockedOut reports whether automated fills are blocked by a fill fault.
func (c *Controller) LockedOut() bool {
	var locked bool
	c.valves.Update(func(*valve.Tx) error {
		locked = c.fill.lockedOut
		return nil
	})
	return locked
}

// Snapshot returns the controller state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{TankFull: c.tankFull()}
	c.valves.Update(func(tx *valve.Tx) error {
		s.Valves = tx.States()
		s.LockedOut = c.fill.lockedOut
		s.FillBudget = c.fill.budget
		s.WaterChangePending = c.sched.Scheduled(JobWaterChange)
		s.LastTopOff = c.lastTopOff
		s.LastTopOffAt = c.lastTopOffAt
		return nil
	})
	return s
}

// tankFull reads the float switch. A failed read counts as not full: the
// fill monitor's budget still bounds any fill that results.
func (c *Controller) tankFull() bool {
	full, err := c.level.IsFull()
	if err != nil {
		log.Printf("logic: level sensor unavailable, assuming not full: %v", err)
		return false
	}
	return full
}

func (c *Controller) notify(device string, payload []byte) {
	if c.notifier != nil {
		c.notifier.Notify(device, payload)
	}
}

func (c *Controller) publishValve(e valve.Event) {
	c.notify(DeviceValve(e.Valve), ValvePayload(e.Status))
}

func (c *Controller) raise(a Alert) {
	log.Printf("logic: ALERT %s: %s", a.Kind, a.Message)
	if c.alerter != nil {
		c.alerter.Alert(a)
	}
}
