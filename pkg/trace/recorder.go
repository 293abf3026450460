// Package trace records invocation lifecycles: active spans keyed by trace
// id, completion events, and the execution metrics they emit.
package trace

import (
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Recorder holds active and recently finished traces. Finished traces are
// retained for the configured horizon and pruned on write.
type Recorder struct {
	mu      sync.RWMutex
	clk     clock.Clock
	store   metrics.Store
	traces  map[string]*types.Trace
	horizon time.Duration
}

// NewRecorder builds a recorder emitting metrics into store.
func NewRecorder(clk clock.Clock, store metrics.Store, horizon time.Duration) *Recorder {
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &Recorder{
		clk:     clk,
		store:   store,
		traces:  make(map[string]*types.Trace),
		horizon: horizon,
	}
}

// Start creates a trace in state started. A caller-supplied trace id is
// reused; an empty id mints a fresh UUID. The trace id is returned.
func (r *Recorder) Start(traceID, sessionID, entityID, userID string, input map[string]any) string {
	if traceID == "" {
		traceID = clock.NewID()
	}

	t := &types.Trace{
		ID:        traceID,
		SessionID: sessionID,
		EntityID:  entityID,
		UserID:    userID,
		Input:     input,
		Status:    types.TraceStatusStarted,
		StartedAt: r.clk.Now(),
	}

	r.mu.Lock()
	r.prune()
	r.traces[traceID] = t
	r.mu.Unlock()

	return traceID
}

// StartSpan starts a child trace under parentID.
func (r *Recorder) StartSpan(parentID, sessionID, entityID, userID string, input map[string]any) string {
	id := r.Start("", sessionID, entityID, userID, input)
	r.mu.Lock()
	if t, ok := r.traces[id]; ok {
		t.ParentSpanID = parentID
	}
	r.mu.Unlock()
	return id
}

// End transitions the trace to success, computes its duration, and emits
// execution_time_seconds plus llm_tokens metrics.
func (r *Recorder) End(traceID string, output map[string]any, usage *types.LLMUsage) {
	now := r.clk.Now()

	r.mu.Lock()
	t, ok := r.traces[traceID]
	if !ok || t.Status != types.TraceStatusStarted {
		r.mu.Unlock()
		return
	}
	t.Status = types.TraceStatusSuccess
	t.Output = output
	t.Usage = usage
	t.EndedAt = now
	t.DurationMS = now.Sub(t.StartedAt).Milliseconds()
	entityID := t.EntityID
	durationMS := t.DurationMS
	r.mu.Unlock()

	r.store.Record(types.Sample{
		OwnerID:   entityID,
		Name:      "execution_time_seconds",
		Value:     float64(durationMS) / 1000.0,
		Unit:      "seconds",
		Timestamp: now,
	})
	if usage != nil {
		r.store.Record(types.Sample{
			OwnerID:   entityID,
			Name:      "llm_tokens",
			Value:     float64(usage.Tokens),
			Labels:    map[string]string{"model": usage.Model},
			Unit:      "tokens",
			Timestamp: now,
		})
	}
}

// Fail transitions the trace to error and emits an error_count metric.
func (r *Recorder) Fail(traceID, message string) {
	now := r.clk.Now()

	r.mu.Lock()
	t, ok := r.traces[traceID]
	if !ok || t.Status != types.TraceStatusStarted {
		r.mu.Unlock()
		return
	}
	t.Status = types.TraceStatusError
	t.Error = message
	t.EndedAt = now
	t.DurationMS = now.Sub(t.StartedAt).Milliseconds()
	entityID := t.EntityID
	r.mu.Unlock()

	r.store.Record(types.Sample{
		OwnerID:   entityID,
		Name:      "error_count",
		Value:     1,
		Timestamp: now,
	})
}

// Get returns a copy of the trace.
func (r *Recorder) Get(traceID string) (*types.Trace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.traces[traceID]
	if !ok {
		return nil, false
	}
	c := *t
	return &c, true
}

// Active returns the count of traces still in state started.
func (r *Recorder) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.traces {
		if t.Status == types.TraceStatusStarted {
			n++
		}
	}
	return n
}

// prune drops finished traces past the retention horizon. Caller holds mu.
func (r *Recorder) prune() {
	cutoff := r.clk.Now().Add(-r.horizon)
	for id, t := range r.traces {
		if t.Status != types.TraceStatusStarted && t.EndedAt.Before(cutoff) {
			delete(r.traces, id)
		}
	}
}
