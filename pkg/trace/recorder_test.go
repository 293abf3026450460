package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newRecorder(t *testing.T) (*Recorder, *clock.Fake, metrics.Store) {
	t.Helper()
	clk := clock.NewFake(testStart)
	store := metrics.NewMemoryStore(clk)
	return NewRecorder(clk, store, time.Hour), clk, store
}

func TestStartEndEmitsExecutionMetrics(t *testing.T) {
	rec, clk, store := newRecorder(t)

	id := rec.Start("", "sess-1", "agent-1", "user-1", map[string]any{"q": "hi"})
	require.NotEmpty(t, id)
	assert.Equal(t, 1, rec.Active())

	clk.Advance(1500 * time.Millisecond)
	rec.End(id, map[string]any{"answer": "hello"}, &types.LLMUsage{Model: "claude-sonnet-4-5", Tokens: 42})

	tr, ok := rec.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.TraceStatusSuccess, tr.Status)
	assert.Equal(t, int64(1500), tr.DurationMS)
	assert.Equal(t, "sess-1", tr.SessionID)
	assert.Equal(t, 0, rec.Active())

	secs := store.Query(metrics.Filter{OwnerID: "agent-1", Name: "execution_time_seconds"})
	require.Len(t, secs, 1)
	assert.Equal(t, 1.5, secs[0].Value)

	tokens := store.Query(metrics.Filter{OwnerID: "agent-1", Name: "llm_tokens"})
	require.Len(t, tokens, 1)
	assert.Equal(t, 42.0, tokens[0].Value)
	assert.Equal(t, "claude-sonnet-4-5", tokens[0].Labels["model"])
}

func TestStartReusesCallerTraceID(t *testing.T) {
	rec, _, _ := newRecorder(t)
	id := rec.Start("caller-id", "", "agent-1", "", nil)
	assert.Equal(t, "caller-id", id)
}

func TestFailEmitsErrorCount(t *testing.T) {
	rec, _, store := newRecorder(t)

	id := rec.Start("", "", "agent-1", "", nil)
	rec.Fail(id, "worker unreachable")

	tr, ok := rec.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.TraceStatusError, tr.Status)
	assert.Equal(t, "worker unreachable", tr.Error)

	errs := store.Query(metrics.Filter{OwnerID: "agent-1", Name: "error_count"})
	require.Len(t, errs, 1)
	assert.Equal(t, 1.0, errs[0].Value)
}

func TestEndIgnoresFinishedTrace(t *testing.T) {
	rec, _, store := newRecorder(t)

	id := rec.Start("", "", "agent-1", "", nil)
	rec.Fail(id, "boom")
	rec.End(id, nil, nil)

	tr, _ := rec.Get(id)
	assert.Equal(t, types.TraceStatusError, tr.Status)
	assert.Empty(t, store.Query(metrics.Filter{Name: "execution_time_seconds"}))
}

func TestStartSpanLinksParent(t *testing.T) {
	rec, _, _ := newRecorder(t)

	parent := rec.Start("", "sess-1", "wf-1", "", nil)
	child := rec.StartSpan(parent, "sess-1", "agent-1", "", nil)

	tr, ok := rec.Get(child)
	require.True(t, ok)
	assert.Equal(t, parent, tr.ParentSpanID)
}

func TestFinishedTracesPrunedPastHorizon(t *testing.T) {
	rec, clk, _ := newRecorder(t)

	old := rec.Start("", "", "agent-1", "", nil)
	rec.End(old, nil, nil)

	clk.Advance(2 * time.Hour)
	rec.Start("", "", "agent-2", "", nil) // prune runs on write

	_, ok := rec.Get(old)
	assert.False(t, ok)
}

func TestGetUnknownTrace(t *testing.T) {
	rec, _, _ := newRecorder(t)
	_, ok := rec.Get("nope")
	assert.False(t, ok)
}
