package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type ruleCollector struct {
	rules []types.AlertRule
}

func (r *ruleCollector) AddRule(rule types.AlertRule) { r.rules = append(r.rules, rule) }

type fakeRestarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRestarter) Restart(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, agentID)
	return f.err
}

type rig struct {
	monitor *Monitor
	agents  *registry.AgentRegistry
	store   metrics.Store
}

func newRig(t *testing.T, opts Options, restarter Restarter) *rig {
	t.Helper()
	clk := clock.NewFake(testStart)
	agents := registry.NewAgentRegistry(clk, nil)
	store := metrics.NewMemoryStore(clk)
	return &rig{
		monitor: New(opts, clk, agents, store, nil, restarter),
		agents:  agents,
		store:   store,
	}
}

func (r *rig) activeAgent(t *testing.T, name, endpoint string) *types.Agent {
	t.Helper()
	agent, err := r.agents.Create(&types.Agent{
		Name: name, Kind: types.AgentKindExternal, OwnerID: "tenant-1"})
	require.NoError(t, err)
	require.NoError(t, r.agents.SetStatus(agent.ID, types.AgentStatusActive,
		endpoint, endpoint+"/health", ""))
	return agent
}

func TestNewInstallsBuiltinRules(t *testing.T) {
	sink := &ruleCollector{}
	clk := clock.NewFake(testStart)
	agents := registry.NewAgentRegistry(clk, nil)
	New(Options{}, clk, agents, metrics.NewMemoryStore(clk), sink, nil)

	require.Len(t, sink.rules, 4)
	names := make(map[string]types.AlertRule, 4)
	for _, r := range sink.rules {
		names[r.MetricName] = r
	}
	assert.Equal(t, types.SeverityCritical, names["agent_failure"].Severity)
	assert.Equal(t, 80.0, names["cpu_percent"].Threshold)
	assert.Equal(t, 80.0, names["memory_percent"].Threshold)
	assert.Equal(t, 5.0, names["error_rate"].Threshold)
	for _, r := range sink.rules {
		assert.True(t, r.Enabled)
	}
}

func TestHealthTickResetsFailuresOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newRig(t, Options{}, nil)
	agent := r.activeAgent(t, "healthy", srv.URL)

	r.monitor.HealthTick(context.Background())
	assert.Equal(t, 0, r.monitor.Failures(agent.ID))
}

func TestHealthTickCountsConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newRig(t, Options{}, nil)
	agent := r.activeAgent(t, "flaky", srv.URL)

	for i := 0; i < failureThreshold-1; i++ {
		r.monitor.HealthTick(context.Background())
	}
	assert.Equal(t, failureThreshold-1, r.monitor.Failures(agent.ID))
	// Below the threshold no failure sample is recorded.
	assert.Empty(t, r.store.Query(metrics.Filter{Name: "agent_failure"}))

	r.monitor.HealthTick(context.Background())
	assert.Equal(t, failureThreshold, r.monitor.Failures(agent.ID))

	samples := r.store.Query(metrics.Filter{Name: "agent_failure"})
	require.Len(t, samples, 1)
	assert.Equal(t, agent.ID, samples[0].OwnerID)
	assert.Equal(t, 1.0, samples[0].Value)
	assert.Equal(t, agent.ID, samples[0].Labels["agent"])

	got, err := r.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "503")
}

func TestAutoRestartOffByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	restarter := &fakeRestarter{}
	r := newRig(t, Options{}, restarter)
	r.activeAgent(t, "flaky", srv.URL)

	for i := 0; i < failureThreshold; i++ {
		r.monitor.HealthTick(context.Background())
	}
	assert.Empty(t, restarter.calls)
}

func TestAutoRestartResetsCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	restarter := &fakeRestarter{}
	r := newRig(t, Options{AutoRestart: true}, restarter)
	agent := r.activeAgent(t, "flaky", srv.URL)

	for i := 0; i < failureThreshold; i++ {
		r.monitor.HealthTick(context.Background())
	}
	require.Equal(t, []string{agent.ID}, restarter.calls)
	assert.Equal(t, 0, r.monitor.Failures(agent.ID))
}

func TestHealthTickSkipsInactiveAgents(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	r := newRig(t, Options{}, nil)
	agent, err := r.agents.Create(&types.Agent{
		Name: "idle", Kind: types.AgentKindExternal, OwnerID: "tenant-1",
		ProbeURL: srv.URL + "/health"})
	require.NoError(t, err)

	r.monitor.HealthTick(context.Background())
	assert.False(t, called)
	assert.Equal(t, 0, r.monitor.Failures(agent.ID))
}

func TestMetricsTickRecordsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(`{
			"cpu_percent": 42.5,
			"memory_percent": 61.0,
			"request_count": 120,
			"avg_response_ms": 350,
			"error_rate": 2.5
		}`))
	}))
	defer srv.Close()

	r := newRig(t, Options{}, nil)
	agent := r.activeAgent(t, "busy", srv.URL)

	r.monitor.MetricsTick(context.Background())

	expect := map[string]float64{
		"cpu_percent":     42.5,
		"memory_percent":  61.0,
		"request_count":   120,
		"avg_response_ms": 350,
		"error_rate":      2.5,
	}
	for name, want := range expect {
		samples := r.store.Query(metrics.Filter{OwnerID: agent.ID, Name: name})
		require.Len(t, samples, 1, "metric %s", name)
		assert.Equal(t, want, samples[0].Value, "metric %s", name)
		assert.Equal(t, agent.ID, samples[0].Labels["agent"])
	}
}

func TestMetricsTickToleratesBrokenEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newRig(t, Options{}, nil)
	agent := r.activeAgent(t, "broken", srv.URL)

	r.monitor.MetricsTick(context.Background())
	assert.Empty(t, r.store.Query(metrics.Filter{OwnerID: agent.ID, Name: "cpu_percent"}))
}
