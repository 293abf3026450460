// Package health watches active agents with two independent loops: a probe
// loop tracking consecutive failures, and a usage loop pulling worker
// resource metrics. Both feed the metric store; threshold breaches surface
// as alert rules evaluated by the alert engine.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/types"
)

const (
	probeDeadline    = 10 * time.Second
	failureThreshold = 5
)

// RuleSink receives the monitor's built-in alert rules. Implemented by the
// alert engine.
type RuleSink interface {
	AddRule(rule types.AlertRule)
}

// Restarter requests an agent restart. Implemented by the orchestrator; only
// the orchestrator may touch worker processes.
type Restarter interface {
	Restart(ctx context.Context, agentID string) error
}

// Options configures the monitor.
type Options struct {
	HealthInterval  time.Duration
	MetricsInterval time.Duration
	// AutoRestart gates restart requests on repeated probe failures. Off by
	// default: operators opt in per deployment.
	AutoRestart bool
}

func (o *Options) defaults() {
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = 60 * time.Second
	}
}

// Monitor runs the health and usage loops.
type Monitor struct {
	opts      Options
	clk       clock.Clock
	agents    *registry.AgentRegistry
	store     metrics.Store
	restarter Restarter
	client    *http.Client

	mu       sync.Mutex
	failures map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a monitor and installs its built-in rules into the sink.
func New(opts Options, clk clock.Clock, agents *registry.AgentRegistry, store metrics.Store, rules RuleSink, restarter Restarter) *Monitor {
	opts.defaults()
	m := &Monitor{
		opts:      opts,
		clk:       clk,
		agents:    agents,
		store:     store,
		restarter: restarter,
		client:    &http.Client{Timeout: probeDeadline},
		failures:  make(map[string]int),
	}
	if rules != nil {
		for _, r := range builtinRules() {
			rules.AddRule(r)
		}
	}
	return m
}

// builtinRules are the monitor's standing alert predicates.
func builtinRules() []types.AlertRule {
	return []types.AlertRule{
		{
			ID:         "builtin-agent-failure",
			Name:       "agent_failure",
			MetricName: "agent_failure",
			Operator:   types.OpGreaterOrEqual,
			Threshold:  1,
			Severity:   types.SeverityCritical,
			Enabled:    true,
		},
		{
			ID:         "builtin-cpu-high",
			Name:       "agent_cpu_high",
			MetricName: "cpu_percent",
			Operator:   types.OpGreaterThan,
			Threshold:  80,
			Severity:   types.SeverityHigh,
			Enabled:    true,
		},
		{
			ID:         "builtin-memory-high",
			Name:       "agent_memory_high",
			MetricName: "memory_percent",
			Operator:   types.OpGreaterThan,
			Threshold:  80,
			Severity:   types.SeverityHigh,
			Enabled:    true,
		},
		{
			ID:         "builtin-error-rate-high",
			Name:       "agent_error_rate_high",
			MetricName: "error_rate",
			Operator:   types.OpGreaterThan,
			Threshold:  5,
			Severity:   types.SeverityMedium,
			Enabled:    true,
		},
	}
}

// Start launches both loops.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.loop(ctx, m.opts.HealthInterval, m.HealthTick)
	}()
	go func() {
		defer wg.Done()
		m.loop(ctx, m.opts.MetricsInterval, m.MetricsTick)
	}()
	go func() {
		wg.Wait()
		close(m.done)
	}()
}

// Stop cancels both loops and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// HealthTick probes every active agent once.
func (m *Monitor) HealthTick(ctx context.Context) {
	for _, agent := range m.agents.List("") {
		if ctx.Err() != nil {
			return
		}
		if agent.Status != types.AgentStatusActive || agent.ProbeURL == "" {
			continue
		}
		m.probe(ctx, agent)
	}
}

func (m *Monitor) probe(ctx context.Context, agent *types.Agent) {
	ctx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	healthy := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, agent.ProbeURL, nil)
	if err == nil {
		resp, err := m.client.Do(req)
		if err == nil {
			resp.Body.Close()
			healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
			if !healthy {
				m.agents.SetLastError(agent.ID, "probe returned HTTP "+resp.Status)
			}
		} else {
			m.agents.SetLastError(agent.ID, "probe failed: "+err.Error())
		}
	}

	m.mu.Lock()
	if healthy {
		m.failures[agent.ID] = 0
		m.mu.Unlock()
		return
	}
	m.failures[agent.ID]++
	count := m.failures[agent.ID]
	m.mu.Unlock()

	logger.GetLogger().Warn("agent probe failed",
		"agent", agent.ID, "consecutive", count)

	if count < failureThreshold {
		return
	}

	m.store.Record(types.Sample{
		OwnerID:   agent.ID,
		Name:      "agent_failure",
		Value:     1,
		Labels:    map[string]string{"agent": agent.ID},
		Timestamp: m.clk.Now(),
	})

	if m.opts.AutoRestart && m.restarter != nil {
		logger.GetLogger().Info("requesting agent restart", "agent", agent.ID)
		if err := m.restarter.Restart(ctx, agent.ID); err != nil {
			logger.GetLogger().Error("agent restart failed", "agent", agent.ID, "error", err)
			return
		}
		m.mu.Lock()
		m.failures[agent.ID] = 0
		m.mu.Unlock()
	}
}

// Failures returns the consecutive failure count for an agent.
func (m *Monitor) Failures(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[agentID]
}

// workerUsage is the shape workers report from GET {endpoint}/metrics.
type workerUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	RequestCount  float64 `json:"request_count"`
	AvgResponseMS float64 `json:"avg_response_ms"`
	ErrorRate     float64 `json:"error_rate"`
}

// MetricsTick pulls usage from every active agent's metrics endpoint and
// records the samples.
func (m *Monitor) MetricsTick(ctx context.Context) {
	for _, agent := range m.agents.List("") {
		if ctx.Err() != nil {
			return
		}
		if agent.Status != types.AgentStatusActive || agent.Endpoint == "" {
			continue
		}
		usage, err := m.fetchUsage(ctx, agent.Endpoint+"/metrics")
		if err != nil {
			logger.GetLogger().Debug("usage fetch failed", "agent", agent.ID, "error", err)
			continue
		}
		m.recordUsage(agent.ID, usage)
	}
}

func (m *Monitor) fetchUsage(ctx context.Context, url string) (*workerUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrExternal, "metrics endpoint returned HTTP %d", resp.StatusCode)
	}

	var usage workerUsage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

func (m *Monitor) recordUsage(agentID string, usage *workerUsage) {
	now := m.clk.Now()
	labels := map[string]string{"agent": agentID}
	for name, value := range map[string]float64{
		"cpu_percent":     usage.CPUPercent,
		"memory_percent":  usage.MemoryPercent,
		"request_count":   usage.RequestCount,
		"avg_response_ms": usage.AvgResponseMS,
		"error_rate":      usage.ErrorRate,
	} {
		m.store.Record(types.Sample{
			OwnerID:   agentID,
			Name:      name,
			Value:     value,
			Labels:    labels,
			Timestamp: now,
		})
	}
}
