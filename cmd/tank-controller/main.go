// Command tank-controller drives an aquarium's drain and fill solenoids,
// watches the float switch, and reports over MQTT and HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/tank-controller/internal/gpio"
	"github.com/sweeney/tank-controller/internal/history"
	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/metrics"
	"github.com/sweeney/tank-controller/internal/mqtt"
	"github.com/sweeney/tank-controller/internal/status"
	"github.com/sweeney/tank-controller/internal/timer"
	"github.com/sweeney/tank-controller/internal/valve"
	"github.com/sweeney/tank-controller/internal/web"
)

const clientID = "tank-controller"

// Job ids owned by the daemon rather than the controller.
const (
	jobHeartbeat     = "heartbeat"
	jobStatusRefresh = "status_refresh"
)

type options struct {
	broker     string
	httpAddr   string
	pinLevel   int
	heartbeat  time.Duration
	dbPath     string
	printState bool
	ctrl       logic.Config
}

func main() {
	def := logic.DefaultConfig()
	var o options

	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.IntVar(&o.ctrl.DrainPin, "pin-drain", def.DrainPin, "BCM pin number for the drain solenoid")
	flag.IntVar(&o.ctrl.FillPin, "pin-fill", def.FillPin, "BCM pin number for the fill solenoid")
	flag.IntVar(&o.pinLevel, "pin-level", gpio.DefaultPinLevel, "BCM pin number for the float switch")
	flag.DurationVar(&o.ctrl.FillCheckInterval, "fill-check", def.FillCheckInterval, "Fill monitor interval")
	flag.DurationVar(&o.ctrl.FillBudget, "fill-budget", def.FillBudget, "Maximum fill valve open time")
	flag.DurationVar(&o.ctrl.DrainCeiling, "drain-ceiling", def.DrainCeiling, "Maximum drain valve open time")
	flag.DurationVar(&o.ctrl.WaterChangeFillBudget, "water-change-budget", def.WaterChangeFillBudget, "Fill budget for the refill after a water change")
	flag.DurationVar(&o.ctrl.TopOffInterval, "top-off-interval", def.TopOffInterval, "Top-off attempt interval")
	flag.DurationVar(&o.ctrl.TopOffBudget, "top-off-budget", def.TopOffBudget, "Fill budget for a top-off")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.dbPath, "db", "/var/lib/tank-controller/history.db", "History database path (empty to disable)")
	flag.BoolVar(&o.printState, "print-state", false, "Print the float switch state and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	level, err := gpio.NewRealLevel(o.pinLevel)
	if err != nil {
		return fmt.Errorf("init level sensor: %w", err)
	}
	defer level.Close()

	// Print state mode
	if o.printState {
		full, err := level.IsFull()
		if err != nil {
			return fmt.Errorf("read level: %w", err)
		}
		fmt.Printf("level: %s\n", levelString(full))
		return nil
	}

	outputs, err := gpio.NewRealOutputs(o.ctrl.DrainPin, o.ctrl.FillPin)
	if err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}
	defer outputs.Close()

	publisher, err := mqtt.NewRealPublisher(o.broker, clientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before the controller so it can collect alerts)
	tracker := status.NewTracker(time.Now(), status.Config{
		FillCheck:         o.ctrl.FillCheckInterval,
		FillBudget:        o.ctrl.FillBudget,
		DrainCeiling:      o.ctrl.DrainCeiling,
		WaterChangeBudget: o.ctrl.WaterChangeFillBudget,
		TopOffInterval:    o.ctrl.TopOffInterval,
		TopOffBudget:      o.ctrl.TopOffBudget,
		Heartbeat:         o.heartbeat,
		Broker:            o.broker,
		HTTPPort:          o.httpAddr,
		DBPath:            o.dbPath,
	}, nil)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	m := metrics.New()
	alerters := logic.Alerters{publisher, tracker, m}
	observers := []valve.Observer{m.ObserveValve}

	var store *history.Store
	if o.dbPath != "" {
		store, err = history.Open(o.dbPath)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		defer store.Close()
		recorder := history.NewRecorder(store, history.DefaultQueue)
		defer recorder.Close()
		alerters = append(alerters, recorder)
		observers = append(observers, recorder.ObserveValve)
	}

	sched := timer.NewService()
	ctrl, err := logic.New(o.ctrl, logic.Deps{
		Scheduler: sched,
		Clock:     sched,
		Outputs:   outputs,
		Level:     level,
		Notifier:  publisher,
		Alerter:   alerters,
		Observers: observers,
	})
	if err != nil {
		sched.Stop()
		return fmt.Errorf("init controller: %w", err)
	}
	tracker.SetSource(ctrl)
	if err := m.WatchLockout(ctrl.LockedOut); err != nil {
		log.Printf("metrics: %v", err)
	}

	if err := ctrl.Start(); err != nil {
		ctrl.Stop()
		sched.Stop()
		return fmt.Errorf("start controller: %w", err)
	}

	// Publish startup event with full status snapshot
	publishStatus(publisher, publisher, tracker, "STARTUP", "", true)

	if err := scheduleDaemonJobs(sched, publisher, publisher, tracker, o.heartbeat); err != nil {
		log.Printf("%v", err)
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		opts := web.Options{Metrics: m}
		if store != nil {
			opts.History = store
		}
		srv := web.New(o.httpAddr, tracker, ctrl, opts)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: drain=%d fill=%d level=%d broker=%s fill-budget=%v drain-ceiling=%v top-off=%v heartbeat=%v",
		o.ctrl.DrainPin, o.ctrl.FillPin, o.pinLevel, o.broker, o.ctrl.FillBudget, o.ctrl.DrainCeiling, o.ctrl.TopOffInterval, o.heartbeat)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, sched.Stop, publisher, publisher, tracker, sigCh)
}

// stopper is the part of the controller the signal loop needs.
type stopper interface {
	Stop() error
}

// runLoop blocks until a signal arrives, then closes both valves, stops the
// scheduler and publishes SHUTDOWN.
func runLoop(ctrl stopper, stopTimers func(), publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, sig <-chan os.Signal) error {
	s := <-sig
	log.Printf("received %v, shutting down", s)

	if err := ctrl.Stop(); err != nil {
		log.Printf("close valves: %v", err)
	}
	stopTimers()

	publishStatus(publisher, mqttStatus, tracker, "SHUTDOWN", signalName(s), true)
	return nil
}

// scheduleDaemonJobs arms the heartbeat and the once-a-minute tracker refresh.
func scheduleDaemonJobs(sched timer.Scheduler, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration) error {
	err := sched.Schedule(jobStatusRefresh, timer.EveryMinute(), func() {
		refreshTracker(mqttStatus, tracker)
	})
	if err != nil {
		return fmt.Errorf("schedule status refresh: %w", err)
	}

	for i, tr := range heartbeatTriggers(heartbeat) {
		id := fmt.Sprintf("%s-%d", jobHeartbeat, i)
		err := sched.Schedule(id, tr, func() {
			publishStatus(publisher, mqttStatus, tracker, "HEARTBEAT", "", false)
		})
		if err != nil {
			return fmt.Errorf("schedule heartbeat: %w", err)
		}
	}
	return nil
}

// heartbeatTriggers aligns heartbeats to the wall clock when d is a whole
// number of minutes dividing the hour (e.g. 15m fires at :00 :15 :30 :45).
// Any other positive d becomes a plain interval; zero disables.
func heartbeatTriggers(d time.Duration) []timer.Trigger {
	if d <= 0 {
		return nil
	}
	if d%time.Minute != 0 || d > time.Hour || time.Hour%d != 0 {
		return []timer.Trigger{timer.Every(d)}
	}
	step := int(d / time.Minute)
	if step == 1 {
		return []timer.Trigger{timer.EveryMinute()}
	}
	var trs []timer.Trigger
	for m := 0; m < 60; m += step {
		trs = append(trs, timer.AtMinute(m))
	}
	return trs
}

func refreshTracker(mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
}

func publishStatus(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, event, reason string, retained bool) {
	refreshTracker(mqttStatus, tracker)
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(full bool) string {
	if full {
		return "FULL"
	}
	return "NOT FULL"
}
