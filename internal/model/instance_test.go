package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewInstanceOpensSession(t *testing.T) {
	inst := NewInstance("i1", "u1", "bot/1.0", "198.51.100.7", now)

	assert.Equal(t, StatusConnected, inst.Status)
	assert.Equal(t, int64(1), inst.ConnectionCount)
	assert.Equal(t, 100, inst.HealthScore)
	require.NotNil(t, inst.CurrentSession())
	assert.Equal(t, now, inst.CurrentSession().Start)
	assert.Equal(t, []string{"198.51.100.7"}, inst.IPHistory)
}

func TestSessionLifecycle(t *testing.T) {
	inst := NewInstance("i1", "u1", "", "", now)

	// Opening over an open session is a no-op.
	inst.OpenSession(now.Add(time.Second), "", "")
	require.Len(t, inst.Sessions, 1)

	closed := inst.CloseSession(now.Add(90*time.Second), "normal")
	require.NotNil(t, closed)
	assert.Equal(t, 90.0, closed.DurationSeconds)
	assert.Equal(t, "normal", closed.DisconnectReason)
	assert.Nil(t, inst.CurrentSession())

	// Closing with nothing open is a no-op too.
	assert.Nil(t, inst.CloseSession(now.Add(2*time.Minute), "normal"))

	inst.OpenSession(now.Add(3*time.Minute), "", "")
	require.Len(t, inst.Sessions, 2)
	assert.Equal(t, []float64{90.0}, inst.ClosedDurations())
}

func TestCloseSessionClampsNegativeDuration(t *testing.T) {
	inst := NewInstance("i1", "u1", "", "", now)

	closed := inst.CloseSession(now.Add(-time.Minute), "clock_skew")
	require.NotNil(t, closed)
	assert.Zero(t, closed.DurationSeconds)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	inst := NewInstance("i1", "u1", "", "", now)

	inst.Touch(now.Add(-time.Hour))
	assert.Equal(t, now, inst.LastActive)

	inst.TouchHeartbeat(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), inst.LastActive)
	assert.Equal(t, now.Add(time.Minute), inst.LastHeartbeat)
}

func TestRecordIPDeduplicates(t *testing.T) {
	inst := NewInstance("i1", "u1", "", "", now)

	inst.RecordIP("10.0.0.1")
	inst.RecordIP("10.0.0.2")
	inst.RecordIP("10.0.0.1")
	inst.RecordIP("")

	assert.Equal(t, "10.0.0.1", inst.IPAddress)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, inst.IPHistory)
}

func TestUserAddInstanceAppendOnly(t *testing.T) {
	u := &User{ID: "u1"}

	u.AddInstance("i1")
	u.AddInstance("i1")
	u.AddInstance("i2")
	u.AddInstance("")

	assert.Equal(t, []string{"i1", "i2"}, u.Instances)
}

func TestDatasetEnsureUser(t *testing.T) {
	ds := NewDataset(now)

	u := ds.EnsureUser("u1", now)
	again := ds.EnsureUser("u1", now.Add(time.Hour))
	assert.Same(t, u, again)
	assert.Equal(t, now, again.FirstSeen)
}

func TestConnectedCount(t *testing.T) {
	ds := NewDataset(now)
	ds.Instances["a"] = NewInstance("a", "u1", "", "", now)
	b := NewInstance("b", "u2", "", "", now)
	b.Status = StatusDisconnected
	ds.Instances["b"] = b

	assert.Equal(t, 1, ds.ConnectedCount())
}

func TestDayForBucketsUTC(t *testing.T) {
	s := NewStatistics()

	loc := time.FixedZone("UTC+5", 5*3600)
	late := time.Date(2025, 6, 2, 2, 0, 0, 0, loc) // 2025-06-01 21:00 UTC
	s.DayFor(late).Connections++

	_, ok := s.Daily["2025-06-01"]
	assert.True(t, ok, "daily buckets key on UTC dates")
	assert.NotContains(t, s.Daily, "2025-06-02")
}
