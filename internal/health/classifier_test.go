package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaska/botpulse/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func connectedInstance(lastActive time.Time) *model.Instance {
	return &model.Instance{
		ID:              "inst-1",
		Status:          model.StatusConnected,
		FirstSeen:       lastActive.Add(-24 * time.Hour),
		LastActive:      lastActive,
		LastHeartbeat:   lastActive,
		ConnectionCount: 1,
	}
}

func TestIsActiveWithinWindow(t *testing.T) {
	w := DefaultWindows()

	inst := connectedInstance(base.Add(-10 * time.Minute))
	assert.True(t, IsActive(inst, base, w))

	inst = connectedInstance(base.Add(-40 * time.Minute))
	assert.False(t, IsActive(inst, base, w), "silent instance falls out of the window despite connected status")

	inst = connectedInstance(base)
	inst.Status = model.StatusDisconnected
	assert.False(t, IsActive(inst, base, w))
}

func TestIsActiveHeartbeatVariant(t *testing.T) {
	w := DefaultWindows()
	w.Heartbeat = 5 * time.Minute

	inst := connectedInstance(base.Add(-time.Minute))
	inst.LastHeartbeat = base.Add(-10 * time.Minute)
	assert.False(t, IsActive(inst, base, w))

	inst.LastHeartbeat = base.Add(-time.Minute)
	assert.True(t, IsActive(inst, base, w))
}

func TestIsRecentlyDisconnected(t *testing.T) {
	w := DefaultWindows()

	inst := connectedInstance(base.Add(-2 * time.Hour))
	assert.True(t, IsRecentlyDisconnected(inst, base, w))

	inst = connectedInstance(base.Add(-30 * time.Hour))
	assert.False(t, IsRecentlyDisconnected(inst, base, w))
}

func TestQualityIssuesStableByDefault(t *testing.T) {
	inst := connectedInstance(base)
	assert.Equal(t, []string{IssueStable}, QualityIssues(inst, base))
}

func TestQualityIssuesTags(t *testing.T) {
	inst := connectedInstance(base)
	inst.FirstSeen = base.Add(-30 * time.Minute)
	inst.ConnectionCount = 6
	inst.AvgSessionSeconds = 5
	inst.IPHistory = []string{"10.0.0.1", "10.0.0.2"}

	issues := QualityIssues(inst, base)
	assert.Contains(t, issues, IssueFrequentReconnections)
	assert.Contains(t, issues, IssueShortSessions)
	assert.Contains(t, issues, IssueIPInstability)
	assert.NotContains(t, issues, IssueStable)
}

func TestQualityIssuesReconnectionThresholdBoundary(t *testing.T) {
	inst := connectedInstance(base)
	inst.FirstSeen = base.Add(-30 * time.Minute)

	inst.ConnectionCount = 4
	assert.NotContains(t, QualityIssues(inst, base), IssueFrequentReconnections)

	// The fifth connection within the window tips the instance into churn.
	inst.ConnectionCount = 5
	assert.Contains(t, QualityIssues(inst, base), IssueFrequentReconnections)
}

func TestQualityIssuesReconnectionWindowExpires(t *testing.T) {
	inst := connectedInstance(base)
	inst.FirstSeen = base.Add(-2 * time.Hour)
	inst.ConnectionCount = 10

	assert.NotContains(t, QualityIssues(inst, base), IssueFrequentReconnections)
}

func TestScoreHealthyInstance(t *testing.T) {
	inst := connectedInstance(base)
	inst.AvgSessionSeconds = 300
	assert.Equal(t, 100, Score(inst, base))
}

func TestScorePenalties(t *testing.T) {
	inst := connectedInstance(base)
	inst.FirstSeen = base.Add(-10 * time.Minute)
	inst.ConnectionCount = 6
	inst.AvgSessionSeconds = 5

	// frequent_reconnections (-30) + short_sessions (-20) leave at most 50
	// before the disconnect-rate and duration penalties.
	score := Score(inst, base)
	assert.LessOrEqual(t, score, 50)
	assert.GreaterOrEqual(t, score, 0)
}

func TestScoreDisconnectRatePenalty(t *testing.T) {
	inst := connectedInstance(base)
	inst.ConnectionCount = 10
	inst.DisconnectionCount = 4
	inst.AvgSessionSeconds = 300

	assert.Equal(t, 80, Score(inst, base))
}

func TestScoreShortAvgProportionalPenalty(t *testing.T) {
	inst := connectedInstance(base)
	inst.AvgSessionSeconds = 45 // above short_sessions, below healthy

	// shortfall is 15/60 of the 15-point max penalty.
	assert.Equal(t, 96, Score(inst, base))
}

func TestScoreBounds(t *testing.T) {
	inst := connectedInstance(base)
	inst.FirstSeen = base.Add(-time.Minute)
	inst.ConnectionCount = 100
	inst.DisconnectionCount = 99
	inst.AvgSessionSeconds = 1
	inst.IPHistory = []string{"a", "b", "c"}

	score := Score(inst, base)
	assert.GreaterOrEqual(t, score, 0)
	assert.LessOrEqual(t, score, 100)
}

func TestRecommendations(t *testing.T) {
	recs := Recommendations([]string{IssueStable}, 100)
	require.Len(t, recs, 1)
	assert.Equal(t, "No issues detected", recs[0])

	recs = Recommendations([]string{IssueShortSessions, IssueIPInstability}, 60)
	assert.Len(t, recs, 3, "two issue remediations plus the attention message")
}

func TestSessionMetricsForEmptyDataset(t *testing.T) {
	ds := model.NewDataset(base)
	m := SessionMetricsFor(ds)
	assert.Zero(t, m.AvgSeconds)
	assert.Zero(t, m.FailedConnections)
}

func TestSessionMetricsFor(t *testing.T) {
	ds := model.NewDataset(base)
	inst := model.NewInstance("i1", "u1", "", "", base)
	inst.CloseSession(base.Add(5*time.Second), "crash")
	inst.OpenSession(base.Add(10*time.Second), "", "")
	inst.CloseSession(base.Add(100*time.Second), "normal")
	ds.Instances["i1"] = inst

	m := SessionMetricsFor(ds)
	assert.Equal(t, 5.0, m.MinSeconds)
	assert.Equal(t, 90.0, m.MaxSeconds)
	assert.InDelta(t, 47.5, m.AvgSeconds, 0.01)
	assert.Equal(t, int64(1), m.FailedConnections)
}

func TestQualityMetricsNeutralDefaults(t *testing.T) {
	ds := model.NewDataset(base)
	m := QualityMetricsFor(ds)
	assert.Equal(t, 100, m.StabilityScore)
	assert.Equal(t, 100, m.HealthScore)
	assert.Equal(t, 100, m.ConnectionQuality)
}

func TestQualityMetricsFor(t *testing.T) {
	ds := model.NewDataset(base)
	ds.Statistics.TotalConnections = 10
	ds.Statistics.AbnormalDisconnects = 2
	ds.Statistics.SessionMetrics.FailedConnections = 5

	healthy := connectedInstance(base)
	healthy.HealthScore = 100
	degraded := connectedInstance(base)
	degraded.ID = "inst-2"
	degraded.HealthScore = 50
	ds.Instances["inst-1"] = healthy
	ds.Instances["inst-2"] = degraded

	m := QualityMetricsFor(ds)
	assert.Equal(t, 50, m.StabilityScore)
	assert.Equal(t, 80, m.ConnectionQuality)
	assert.Equal(t, 75, m.HealthScore)
}

func TestAbnormalReason(t *testing.T) {
	assert.False(t, AbnormalReason(""))
	assert.False(t, AbnormalReason("normal"))
	assert.False(t, AbnormalReason("shutdown"))
	assert.True(t, AbnormalReason("connection_lost"))
	assert.True(t, AbnormalReason("crash"))
}
