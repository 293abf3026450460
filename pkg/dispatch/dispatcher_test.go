package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/llms"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/trace"
	"github.com/agentmesh/agentmesh/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	name     string
	response *llms.Response
	err      error
	mu       sync.Mutex
	requests []llms.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req llms.Request) (*llms.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type env struct {
	dispatcher *Dispatcher
	agents     *registry.AgentRegistry
	recorder   *trace.Recorder
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	clk := clock.NewFake(testStart)
	agents := registry.NewAgentRegistry(clk, nil)
	recorder := trace.NewRecorder(clk, metrics.NewMemoryStore(clk), time.Hour)
	return &env{
		dispatcher: New(clk, agents, recorder, opts...),
		agents:     agents,
		recorder:   recorder,
	}
}

func (e *env) activeExternal(t *testing.T, endpoint string, config map[string]string) *types.Agent {
	t.Helper()
	agent, err := e.agents.Create(&types.Agent{
		Name:    "worker",
		Kind:    types.AgentKindExternal,
		OwnerID: "tenant-1",
		Config:  config,
	})
	require.NoError(t, err)
	require.NoError(t, e.agents.SetStatus(agent.ID, types.AgentStatusActive,
		endpoint, endpoint+"/health", ""))
	return agent
}

func TestInvokeExternalWorker(t *testing.T) {
	var gotTraceID, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = r.Header.Get("X-Trace-Id")
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/invoke", r.URL.Path)

		var input map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "hi", input["message"])

		json.NewEncoder(w).Encode(map[string]any{
			"output":    map[string]any{"answer": "hello"},
			"llm_usage": map[string]any{"model": "claude-sonnet-4-5", "tokens": 12},
		})
	}))
	defer srv.Close()

	e := newEnv(t)
	agent := e.activeExternal(t, srv.URL, nil)

	result, err := e.dispatcher.Invoke(context.Background(), Request{
		AgentID:  agent.ID,
		Input:    map[string]any{"message": "hi"},
		TraceID:  "trace-123",
		CallerID: "tenant-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output["answer"])
	assert.Equal(t, "trace-123", result.TraceID)
	assert.Equal(t, "trace-123", gotTraceID)
	assert.Empty(t, gotAuth)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int64(12), result.Usage.Tokens)

	tr, ok := e.recorder.Get("trace-123")
	require.True(t, ok)
	assert.Equal(t, types.TraceStatusSuccess, tr.Status)

	got, err := e.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, int64(0), got.ErrorCount)
}

func TestInvokeTemplatedUsesConfiguredProvider(t *testing.T) {
	provider := &fakeProvider{
		name: "anthropic",
		response: &llms.Response{
			Output: map[string]any{"text": "done"},
			Usage:  &types.LLMUsage{Model: "claude-sonnet-4-5", Tokens: 7},
		},
	}
	e := newEnv(t, WithProvider(provider))

	agent, err := e.agents.Create(&types.Agent{
		Name:         "assistant",
		Kind:         types.AgentKindTemplated,
		OwnerID:      "tenant-1",
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	require.NoError(t, e.agents.SetStatus(agent.ID, types.AgentStatusActive,
		"http://127.0.0.1:9001", "http://127.0.0.1:9001/health", ""))

	result, err := e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID,
		Input:   map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output["text"])

	require.Len(t, provider.requests, 1)
	assert.Equal(t, "be brief", provider.requests[0].System)
	assert.Equal(t, "claude-sonnet-4-5", provider.requests[0].Model)
}

func TestInvokeTemplatedMissingProvider(t *testing.T) {
	e := newEnv(t)
	agent, err := e.agents.Create(&types.Agent{
		Name: "assistant", Kind: types.AgentKindTemplated, OwnerID: "tenant-1"})
	require.NoError(t, err)
	require.NoError(t, e.agents.SetStatus(agent.ID, types.AgentStatusActive,
		"http://127.0.0.1:9001", "http://127.0.0.1:9001/health", ""))

	_, err = e.dispatcher.Invoke(context.Background(), Request{AgentID: agent.ID})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrUnavailable))
}

func TestInvokeUnknownAgent(t *testing.T) {
	e := newEnv(t)
	_, err := e.dispatcher.Invoke(context.Background(), Request{AgentID: "ghost"})
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestInvokeInactiveAgent(t *testing.T) {
	e := newEnv(t)
	agent, err := e.agents.Create(&types.Agent{
		Name: "worker", Kind: types.AgentKindExternal, OwnerID: "tenant-1"})
	require.NoError(t, err)

	_, err = e.dispatcher.Invoke(context.Background(), Request{AgentID: agent.ID, CallerID: "tenant-1"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrUnavailable))
}

func TestInvokeForbiddenForNonOwner(t *testing.T) {
	e := newEnv(t)
	agent := e.activeExternal(t, "http://127.0.0.1:9001", nil)

	_, err := e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID, CallerID: "tenant-2"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrForbidden))
}

func TestInvokeCustomAuthorizePolicy(t *testing.T) {
	e := newEnv(t, WithAuthorize(func(_ *types.Agent, callerID string) bool {
		return callerID == "vip"
	}))
	agent := e.activeExternal(t, "http://127.0.0.1:9001", nil)

	_, err := e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID, CallerID: "tenant-1"})
	assert.True(t, types.IsKind(err, types.ErrForbidden))
}

func TestInvokeSchemaRejectionBeforeDispatch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.Write([]byte(`{"output":{}}`))
	}))
	defer srv.Close()

	e := newEnv(t)
	agent, err := e.agents.Create(&types.Agent{
		Name:    "worker",
		Kind:    types.AgentKindExternal,
		OwnerID: "tenant-1",
		InputSchema: &types.Schema{Fields: map[string]*types.SchemaField{
			"message": {Type: types.TypeString, Required: true},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, e.agents.SetStatus(agent.ID, types.AgentStatusActive,
		srv.URL, srv.URL+"/health", ""))

	_, err = e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID, Input: map[string]any{"message": 5}, CallerID: "tenant-1"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
	assert.False(t, called, "schema rejection must precede any worker call")
	assert.Equal(t, 0, e.recorder.Active())
}

func TestInvokeWorkerErrorClassifiedExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "worker exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newEnv(t)
	agent := e.activeExternal(t, srv.URL, nil)

	_, err := e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID, TraceID: "trace-err", CallerID: "tenant-1"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrExternal))

	tr, ok := e.recorder.Get("trace-err")
	require.True(t, ok)
	assert.Equal(t, types.TraceStatusError, tr.Status)

	got, _ := e.agents.Get(agent.ID)
	assert.Equal(t, int64(1), got.ErrorCount)
}

func TestInvokeConcurrencyCap(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Write([]byte(`{"output":{}}`))
	}))
	defer srv.Close()

	e := newEnv(t)
	agent := e.activeExternal(t, srv.URL, map[string]string{"max_concurrency": "1"})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := e.dispatcher.Invoke(context.Background(), Request{
			AgentID: agent.ID, CallerID: "tenant-1"})
		done <- err
	}()
	<-started
	// Let the first invocation reach the worker before racing the cap.
	require.Eventually(t, func() bool {
		e.dispatcher.mu.Lock()
		defer e.dispatcher.mu.Unlock()
		return e.dispatcher.inflight[agent.ID] == 1
	}, time.Second, 5*time.Millisecond)

	_, err := e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID, CallerID: "tenant-1"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrOverloaded))

	close(release)
	require.NoError(t, <-done)

	// Capacity is restored once the slot drains.
	_, err = e.dispatcher.Invoke(context.Background(), Request{
		AgentID: agent.ID, CallerID: "tenant-1"})
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	assert.True(t, types.IsKind(classify(context.DeadlineExceeded), types.ErrTimeout))
	assert.True(t, types.IsKind(classify(context.Canceled), types.ErrTimeout))
	assert.True(t, types.IsKind(classify(assert.AnError), types.ErrExternal))

	typed := types.NewError(types.ErrForbidden, "no")
	assert.True(t, types.IsKind(classify(typed), types.ErrForbidden))
}
