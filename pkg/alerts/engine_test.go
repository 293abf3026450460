package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu    sync.Mutex
	calls []types.Alert
}

func (c *captureNotifier) Notify(_ context.Context, alert types.Alert, _ types.AlertRule) {
	c.mu.Lock()
	c.calls = append(c.calls, alert)
	c.mu.Unlock()
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func cpuRule() types.AlertRule {
	return types.AlertRule{
		ID:         "rule-cpu",
		Name:       "high cpu",
		MetricName: "cpu_percent",
		Operator:   types.OpGreaterThan,
		Threshold:  80,
		Severity:   types.SeverityHigh,
		Actions:    []types.SinkConfig{{Kind: "webhook"}},
		Enabled:    true,
	}
}

func newEngine(t *testing.T) (*Engine, *clock.Fake, metrics.Store, *captureNotifier) {
	t.Helper()
	clk := clock.NewFake(testStart)
	store := metrics.NewMemoryStore(clk)
	sink := &captureNotifier{}
	return NewEngine(clk, store, sink, 30*time.Second), clk, store, sink
}

func record(store metrics.Store, owner, name string, value float64, at time.Time) {
	store.Record(types.Sample{OwnerID: owner, Name: name, Value: value, Timestamp: at})
}

func activeAlert(e *Engine) (types.Alert, bool) {
	for _, a := range e.Alerts() {
		if a.State == types.AlertStateActive {
			return a, true
		}
	}
	return types.Alert{}, false
}

func waitNotified(t *testing.T, sink *captureNotifier, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for sink.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d notifications, got %d", want, sink.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRuleFiresAndResolves(t *testing.T) {
	e, clk, store, sink := newEngine(t)
	e.AddRule(cpuRule())

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	e.Tick(context.Background())

	alert, ok := activeAlert(e)
	require.True(t, ok)
	assert.Equal(t, "rule-cpu", alert.RuleID)
	assert.Equal(t, 95.0, alert.Value)
	waitNotified(t, sink, 1)

	// Recovery sample resolves the alert without another notification.
	clk.Advance(10 * time.Second)
	record(store, "agent-1", "cpu_percent", 20, clk.Now())
	e.Tick(context.Background())

	_, ok = activeAlert(e)
	assert.False(t, ok)
	alerts := e.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertStateResolved, alerts[0].State)
	assert.Equal(t, 1, sink.count())
}

func TestRepeatedTriggerIsIgnored(t *testing.T) {
	e, clk, store, sink := newEngine(t)
	e.AddRule(cpuRule())

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	e.Tick(context.Background())
	waitNotified(t, sink, 1)

	clk.Advance(10 * time.Second)
	record(store, "agent-1", "cpu_percent", 99, clk.Now())
	e.Tick(context.Background())

	assert.Len(t, e.Alerts(), 1)
	assert.Equal(t, 1, sink.count())
	alert, _ := activeAlert(e)
	assert.Equal(t, 99.0, alert.Value)
}

func TestNoSampleNeverFires(t *testing.T) {
	e, _, _, sink := newEngine(t)
	e.AddRule(cpuRule())

	e.Tick(context.Background())
	assert.Empty(t, e.Alerts())
	assert.Equal(t, 0, sink.count())
}

func TestActiveAlertHoldsWithoutSamples(t *testing.T) {
	e, clk, store, _ := newEngine(t)
	e.AddRule(cpuRule())

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	e.Tick(context.Background())

	// Metrics fall out of the evaluation window; absence of data holds state.
	clk.Advance(time.Hour)
	e.Tick(context.Background())

	_, ok := activeAlert(e)
	assert.True(t, ok)
}

func TestAlertsTrackOwnersIndependently(t *testing.T) {
	e, clk, store, _ := newEngine(t)
	e.AddRule(cpuRule())

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	record(store, "agent-2", "cpu_percent", 50, clk.Now())
	e.Tick(context.Background())

	alerts := e.Alerts()
	require.Len(t, alerts, 1)

	clk.Advance(10 * time.Second)
	record(store, "agent-2", "cpu_percent", 90, clk.Now())
	e.Tick(context.Background())

	assert.Len(t, e.Alerts(), 2)
}

func TestSilenceSuppressesUntilExpiry(t *testing.T) {
	e, clk, store, sink := newEngine(t)
	e.AddRule(cpuRule())

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	e.Tick(context.Background())
	waitNotified(t, sink, 1)

	alert, ok := activeAlert(e)
	require.True(t, ok)
	require.True(t, e.Silence(alert.ID, clk.Now().Add(time.Minute)))

	// Still firing but silenced: no re-notification.
	clk.Advance(30 * time.Second)
	record(store, "agent-1", "cpu_percent", 96, clk.Now())
	e.Tick(context.Background())
	assert.Equal(t, 1, sink.count())

	// Silence expired and still firing: fresh trigger.
	clk.Advance(time.Minute)
	record(store, "agent-1", "cpu_percent", 97, clk.Now())
	e.Tick(context.Background())
	waitNotified(t, sink, 2)

	refired, ok := activeAlert(e)
	require.True(t, ok)
	assert.Equal(t, 97.0, refired.Value)
}

func TestSilenceUnknownAlert(t *testing.T) {
	e, clk, _, _ := newEngine(t)
	assert.False(t, e.Silence("missing", clk.Now()))
}

func TestRemoveRuleResolvesItsAlerts(t *testing.T) {
	e, clk, store, _ := newEngine(t)
	e.AddRule(cpuRule())

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	e.Tick(context.Background())
	_, ok := activeAlert(e)
	require.True(t, ok)

	e.RemoveRule("rule-cpu")
	assert.Empty(t, e.Rules())
	alerts := e.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertStateResolved, alerts[0].State)
}

func TestDisabledRuleSkipped(t *testing.T) {
	e, clk, store, _ := newEngine(t)
	rule := cpuRule()
	rule.Enabled = false
	e.AddRule(rule)

	record(store, "agent-1", "cpu_percent", 95, clk.Now())
	e.Tick(context.Background())
	assert.Empty(t, e.Alerts())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		op        types.CompareOperator
		value     float64
		threshold float64
		want      bool
	}{
		{types.OpLessThan, 1, 2, true},
		{types.OpLessOrEqual, 2, 2, true},
		{types.OpEqual, 2, 2, true},
		{types.OpNotEqual, 1, 2, true},
		{types.OpGreaterOrEqual, 2, 2, true},
		{types.OpGreaterThan, 3, 2, true},
		{types.OpGreaterThan, 2, 2, false},
		{types.CompareOperator("??"), 1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.op, tt.value, tt.threshold), "%s %v %v", tt.op, tt.value, tt.threshold)
	}
}
