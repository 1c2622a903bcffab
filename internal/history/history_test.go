package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/valve"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(context.Background(), Entry{Kind: KindValve, Valve: "fill", Detail: "open", At: t0})
	require.NoError(t, err)
	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAppendAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := s.Append(ctx, Entry{Kind: KindValve, Valve: "drain", Detail: "open", At: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), id)
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID, "newest first")
	assert.Equal(t, int64(2), got[1].ID)
	assert.True(t, got[0].At.Equal(t0.Add(2*time.Second)))
	assert.Equal(t, KindValve, got[0].Kind)
	assert.Equal(t, "drain", got[0].Valve)
}

func TestAppendRequiresKind(t *testing.T) {
	s := openTemp(t)
	_, err := s.Append(context.Background(), Entry{Detail: "x", At: t0})
	assert.Error(t, err)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Append(context.Background(), Entry{Kind: KindAlert, Detail: "drain_timeout: x", At: t0})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindAlert, got[0].Kind)
}

func TestRecorderWritesEventsAndAlerts(t *testing.T) {
	s := openTemp(t)
	r := NewRecorder(s, 0)

	r.ObserveValve(valve.Event{Valve: "fill", Status: valve.StatusOpen, Reason: "top_off", At: t0})
	r.ObserveValve(valve.Event{Valve: "fill", Status: valve.StatusClosed, At: t0.Add(30 * time.Second)})
	r.Alert(logic.Alert{Time: t0.Add(31 * time.Second), Kind: logic.AlertFillTimeout, Valve: "fill", Message: "budget exceeded"})
	require.NoError(t, r.Close())

	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "fill_timeout: budget exceeded", got[0].Detail)
	assert.Equal(t, KindAlert, got[0].Kind)
	assert.Equal(t, "closed", got[1].Detail)
	assert.Equal(t, "open: top_off", got[2].Detail)
}

func TestRecorderIgnoresAfterClose(t *testing.T) {
	s := openTemp(t)
	r := NewRecorder(s, 1)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	r.ObserveValve(valve.Event{Valve: "drain", Status: valve.StatusOpen, At: t0})

	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
