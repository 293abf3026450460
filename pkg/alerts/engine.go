// Package alerts evaluates alert rules against the metric store on a fixed
// cadence, applies duration hysteresis and silences, and fans out raised
// alerts to the configured notification sinks.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Notifier receives raised alerts for fan-out. Implemented by pkg/notify.
type Notifier interface {
	Notify(ctx context.Context, alert types.Alert, rule types.AlertRule)
}

// Engine is the periodic rule evaluator. Alerts are keyed by (rule, owner)
// so one rule tracks each agent independently.
type Engine struct {
	mu       sync.RWMutex
	clk      clock.Clock
	store    metrics.Store
	notifier Notifier
	interval time.Duration

	rules  map[string]types.AlertRule
	alerts map[string]*types.Alert // ruleID \x00 ownerID

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds an engine evaluating every interval.
func NewEngine(clk clock.Clock, store metrics.Store, notifier Notifier, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		clk:      clk,
		store:    store,
		notifier: notifier,
		interval: interval,
		rules:    make(map[string]types.AlertRule),
		alerts:   make(map[string]*types.Alert),
	}
}

// AddRule registers or replaces a rule.
func (e *Engine) AddRule(rule types.AlertRule) {
	if rule.ID == "" {
		rule.ID = clock.NewID()
	}
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()
}

// RemoveRule deletes a rule and resolves its outstanding alerts.
func (e *Engine) RemoveRule(ruleID string) {
	now := e.clk.Now()
	e.mu.Lock()
	delete(e.rules, ruleID)
	for _, alert := range e.alerts {
		if alert.RuleID == ruleID && alert.State == types.AlertStateActive {
			alert.State = types.AlertStateResolved
			alert.ResolvedAt = now
		}
	}
	e.mu.Unlock()
}

// Rules lists registered rules.
func (e *Engine) Rules() []types.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// Alerts returns copies of all known alerts.
func (e *Engine) Alerts() []types.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, *a)
	}
	return out
}

// Silence suppresses re-firing for the alert until the given time.
func (e *Engine) Silence(alertID string, until time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.alerts {
		if a.ID == alertID {
			a.State = types.AlertStateSilenced
			a.SilenceUntil = until
			return true
		}
	}
	return false
}

// Start launches the evaluation loop. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// Tick evaluates every enabled rule once. A rule failure never skips the
// remaining rules.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.RLock()
	rules := make([]types.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	for _, rule := range rules {
		e.evaluateRule(ctx, rule)
	}
}

func (e *Engine) evaluateRule(ctx context.Context, rule types.AlertRule) {
	now := e.clk.Now()
	window := rule.HoldDuration
	if window <= 0 {
		window = e.interval
	}

	samples := e.store.Query(metrics.Filter{
		Name:   rule.MetricName,
		Labels: rule.Labels,
		Since:  now.Add(-window),
	})

	// Latest sample per owner; a rule with no samples never fires.
	latest := make(map[string]types.Sample)
	for _, s := range samples {
		if prev, ok := latest[s.OwnerID]; !ok || s.Timestamp.After(prev.Timestamp) {
			latest[s.OwnerID] = s
		}
	}

	for owner, sample := range latest {
		firing := Compare(rule.Operator, sample.Value, rule.Threshold)
		e.transition(ctx, rule, owner, sample.Value, firing, now)
	}

	// Owners with an active alert but no sample in the window hold state:
	// absence of data is not evidence of recovery.
}

func (e *Engine) transition(ctx context.Context, rule types.AlertRule, ownerID string, value float64, firing bool, now time.Time) {
	key := rule.ID + "\x00" + ownerID

	e.mu.Lock()
	existing := e.alerts[key]

	switch {
	case firing && existing != nil && existing.State == types.AlertStateSilenced:
		if now.Before(existing.SilenceUntil) {
			e.mu.Unlock()
			return
		}
		// Silence expired: treat as a fresh trigger.
		existing.State = types.AlertStateActive
		existing.Value = value
		existing.TriggeredAt = now
		existing.SilenceUntil = time.Time{}
		alert := *existing
		e.mu.Unlock()
		e.fanOut(ctx, alert, rule)
		return

	case firing && existing != nil && existing.State == types.AlertStateActive:
		// Repeated trigger while active is ignored.
		existing.Value = value
		e.mu.Unlock()
		return

	case firing:
		alert := &types.Alert{
			ID:          clock.NewID(),
			RuleID:      rule.ID,
			State:       types.AlertStateActive,
			Value:       value,
			TriggeredAt: now,
		}
		e.alerts[key] = alert
		copied := *alert
		e.mu.Unlock()
		logger.GetLogger().Warn("alert fired",
			"rule", rule.Name, "owner", ownerID, "value", value, "severity", string(rule.Severity))
		e.fanOut(ctx, copied, rule)
		return

	case existing != nil && existing.State == types.AlertStateActive:
		existing.State = types.AlertStateResolved
		existing.ResolvedAt = now
		existing.Value = value
		e.mu.Unlock()
		logger.GetLogger().Info("alert resolved", "rule", rule.Name, "owner", ownerID, "value", value)
		return

	default:
		e.mu.Unlock()
	}
}

func (e *Engine) fanOut(ctx context.Context, alert types.Alert, rule types.AlertRule) {
	if e.notifier == nil || len(rule.Actions) == 0 {
		return
	}
	go e.notifier.Notify(ctx, alert, rule)
}

// Compare applies the rule operator.
func Compare(op types.CompareOperator, value, threshold float64) bool {
	switch op {
	case types.OpLessThan:
		return value < threshold
	case types.OpLessOrEqual:
		return value <= threshold
	case types.OpEqual:
		return value == threshold
	case types.OpNotEqual:
		return value != threshold
	case types.OpGreaterOrEqual:
		return value >= threshold
	case types.OpGreaterThan:
		return value > threshold
	default:
		return false
	}
}
