package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/valve"
)

type fixedSource struct{ snap logic.Snapshot }

func (f fixedSource) Snapshot() logic.Snapshot { return f.snap }

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{FillBudget: 5 * time.Minute, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg, nil)

	snap := tr.Snapshot()
	assert.True(t, snap.StartTime.Equal(start))
	assert.Equal(t, 5*time.Minute, snap.Config.FillBudget)
	assert.False(t, snap.MQTTConnected)
	assert.Zero(t, snap.AlertCount)
	assert.Nil(t, snap.LastAlert)
	assert.Empty(t, snap.Tank.Valves, "no source, no tank state")
}

func TestSnapshotPullsSource(t *testing.T) {
	src := fixedSource{snap: logic.Snapshot{
		Valves:    []valve.State{{Name: "drain", Channel: 17, Status: valve.StatusOpen}},
		LockedOut: true,
	}}
	tr := NewTracker(time.Now(), Config{}, src)

	snap := tr.Snapshot()
	require.Len(t, snap.Tank.Valves, 1)
	assert.Equal(t, "drain", snap.Tank.Valves[0].Name)
	assert.True(t, snap.Tank.LockedOut)
}

func TestSetSource(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, nil)
	tr.SetSource(fixedSource{snap: logic.Snapshot{TankFull: true}})

	assert.True(t, tr.Snapshot().Tank.TankFull)
}

func TestAlertCounts(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, nil)

	tr.Alert(logic.Alert{Kind: logic.AlertDrainTimeout})
	tr.Alert(logic.Alert{Kind: logic.AlertFillTimeout, Valve: "fill"})

	snap := tr.Snapshot()
	assert.Equal(t, 2, snap.AlertCount)
	require.NotNil(t, snap.LastAlert)
	assert.Equal(t, logic.AlertFillTimeout, snap.LastAlert.Kind)
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, nil)

	tr.SetMQTTConnected(true)
	assert.True(t, tr.Snapshot().MQTTConnected)
	tr.SetMQTTConnected(false)
	assert.False(t, tr.Snapshot().MQTTConnected)
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	tr := NewTracker(start, Config{}, nil)

	up := tr.Snapshot().Uptime()
	assert.GreaterOrEqual(t, up, 90*time.Second)
	assert.LessOrEqual(t, up, 95*time.Second)
}

func testSnapshot() Snapshot {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return Snapshot{
		Tank: logic.Snapshot{
			Valves: []valve.State{
				{Name: "drain", Channel: 17, Status: valve.StatusClosed},
				{Name: "fill", Channel: 27, Status: valve.StatusOpen, OpenedAt: start.Add(50 * time.Second)},
			},
			FillBudget:   30 * time.Second,
			LastTopOff:   logic.TopOffStarted,
			LastTopOffAt: start.Add(50 * time.Second),
		},
		StartTime:     start,
		Now:           start.Add(time.Minute),
		MQTTConnected: true,
		Config: Config{
			FillCheck:  time.Second,
			FillBudget: 5 * time.Minute,
			Heartbeat:  15 * time.Minute,
			Broker:     "tcp://localhost:1883",
			HTTPPort:   ":80",
		},
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(testSnapshot())

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(data, &parsed))
	s := parsed.Status
	assert.Empty(t, s.Event, "web JSON carries no event")
	assert.Empty(t, s.Reason)

	require.Len(t, s.Valves, 2)
	assert.Equal(t, "closed", s.Valves[0].State)
	assert.Empty(t, s.Valves[0].OpenedAt)
	assert.Equal(t, "open", s.Valves[1].State)
	assert.EqualValues(t, 10, s.Valves[1].OpenSeconds)
	assert.Equal(t, "2026-03-01T09:00:50Z", s.Valves[1].OpenedAt)

	assert.EqualValues(t, 30, s.FillBudgetSeconds)
	require.NotNil(t, s.TopOff)
	assert.Equal(t, "started", s.TopOff.Outcome)
	assert.EqualValues(t, 60, s.UptimeSeconds)
	assert.True(t, s.MQTT.Connected)
	assert.Equal(t, "tcp://localhost:1883", s.MQTT.Broker)
	assert.EqualValues(t, 1000, s.Config.FillCheckMs)
	assert.EqualValues(t, 300, s.Config.FillBudgetSeconds)
	assert.EqualValues(t, 900000, s.Config.HeartbeatMs)
	assert.Nil(t, s.Network, "network omitted when unknown")
	assert.Contains(t, string(data), "\n  ", "web JSON is indented")
}

func TestFormatJSONOmitsTopOffBeforeFirstRun(t *testing.T) {
	snap := testSnapshot()
	snap.Tank.LastTopOff = ""

	assert.NotContains(t, string(FormatJSON(snap)), `top_off"`)
}

func TestFormatJSONLastAlert(t *testing.T) {
	snap := testSnapshot()
	snap.AlertCount = 3
	snap.LastAlert = &logic.Alert{
		Time:    time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC),
		Kind:    logic.AlertFillTimeout,
		Valve:   "fill",
		Message: "budget exceeded",
	}

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(snap), &parsed))
	a := parsed.Status.Alerts
	assert.Equal(t, 3, a.Count)
	require.NotNil(t, a.Last)
	assert.Equal(t, "fill_timeout", a.Last.Kind)
	assert.Equal(t, "2026-03-01T09:00:30Z", a.Last.Timestamp)
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "SHUTDOWN", parsed.Status.Event)
	assert.Equal(t, "SIGTERM", parsed.Status.Reason)
	assert.NotContains(t, string(data), "\n", "MQTT payload is compact")
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "HEARTBEAT", "")
	assert.NotContains(t, string(data), `"reason"`)
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := testSnapshot()
	snap.Network = &NetworkInfo{Type: "wifi", IP: "192.168.1.50", Status: "connected", SSID: "MyNet"}

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(snap), &parsed))
	require.NotNil(t, parsed.Status.Network)
	assert.Equal(t, "MyNet", parsed.Status.Network.SSID)
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{}, nil)
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Alert(logic.Alert{Kind: logic.AlertDrainTimeout})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
