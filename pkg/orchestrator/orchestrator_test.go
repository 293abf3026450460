package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/types"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	orch      *Orchestrator
	agents    *registry.AgentRegistry
	templates *registry.TemplateStore
	ports     *clock.PortAllocator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(testStart)
	agents := registry.NewAgentRegistry(clk, nil)
	templates := registry.NewTemplateStore()
	ports := clock.NewPortAllocator(39000, 20)
	orch := New(Options{
		WorkDir:          t.TempDir(),
		WorkerCommand:    []string{"/bin/sh", "{artifact}"},
		StartupDeadline:  300 * time.Millisecond,
		DrainDeadline:    100 * time.Millisecond,
		ExternalDeadline: 2 * time.Second,
	}, clk, agents, templates, ports)
	return &harness{orch: orch, agents: agents, templates: templates, ports: ports}
}

func (h *harness) seedExternal(t *testing.T, endpoint, probe string) *types.Agent {
	t.Helper()
	agent, err := h.agents.Create(&types.Agent{
		Name:     "remote",
		Kind:     types.AgentKindExternal,
		OwnerID:  "tenant-1",
		Endpoint: endpoint,
		ProbeURL: probe,
	})
	require.NoError(t, err)
	return agent
}

func TestDeployUnknownAgent(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Deploy(context.Background(), "ghost")
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestDeployExternalRequiresEndpointAndProbe(t *testing.T) {
	h := newHarness(t)
	agent := h.seedExternal(t, "", "")

	err := h.orch.Deploy(context.Background(), agent.ID)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
}

func TestDeployExternalHealthy(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agent := h.seedExternal(t, srv.URL, srv.URL+"/health")
	require.NoError(t, h.orch.Deploy(context.Background(), agent.ID))

	got, err := h.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusActive, got.Status)
	assert.Equal(t, srv.URL, got.Endpoint)
}

func TestDeployExternalUnreachable(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	agent := h.seedExternal(t, srv.URL, srv.URL+"/health")
	err := h.orch.Deploy(context.Background(), agent.ID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrUnavailable))

	got, err := h.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusError, got.Status)
	assert.Contains(t, got.LastError, "endpoint validation failed")
}

func TestDeployTemplatedRequiresTemplate(t *testing.T) {
	h := newHarness(t)
	agent, err := h.agents.Create(&types.Agent{
		Name: "bare", Kind: types.AgentKindTemplated, OwnerID: "tenant-1"})
	require.NoError(t, err)

	err = h.orch.Deploy(context.Background(), agent.ID)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
}

func TestDeployTemplatedRenderFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	tpl, err := h.templates.Create(&types.Template{
		Name:       "strict",
		Kind:       types.TemplateKindAgent,
		Body:       "{{binary}}",
		Parameters: map[string]string{"binary": "string"},
		Required:   []string{"binary"},
	})
	require.NoError(t, err)

	agent, err := h.agents.Create(&types.Agent{
		Name: "worker", Kind: types.AgentKindTemplated, OwnerID: "tenant-1",
		TemplateID: tpl.ID})
	require.NoError(t, err)

	err = h.orch.Deploy(context.Background(), agent.ID)
	require.Error(t, err)

	got, err := h.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusInactive, got.Status)
	assert.Zero(t, h.ports.Allocated())
}

func TestDeployTemplatedStartupTimeout(t *testing.T) {
	h := newHarness(t)
	tpl, err := h.templates.Create(&types.Template{
		Name: "sleeper",
		Kind: types.TemplateKindAgent,
		Body: "sleep 30\n", // never serves /health
	})
	require.NoError(t, err)

	agent, err := h.agents.Create(&types.Agent{
		Name: "worker", Kind: types.AgentKindTemplated, OwnerID: "tenant-1",
		TemplateID: tpl.ID})
	require.NoError(t, err)

	err = h.orch.Deploy(context.Background(), agent.ID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrTimeout))

	got, err := h.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusError, got.Status)
	assert.Contains(t, got.LastError, "startup probe timeout")

	// Worker killed and port returned.
	assert.Zero(t, h.orch.Replicas(agent.ID))
	assert.Zero(t, h.ports.Allocated())
}

func TestScaleValidation(t *testing.T) {
	h := newHarness(t)
	agent := h.seedExternal(t, "http://example.invalid", "http://example.invalid/health")

	err := h.orch.Scale(context.Background(), agent.ID, -1)
	assert.True(t, types.IsKind(err, types.ErrBadInput))

	err = h.orch.Scale(context.Background(), agent.ID, 2)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
}

func TestStopTransitionsToStopped(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agent := h.seedExternal(t, srv.URL, srv.URL+"/health")
	require.NoError(t, h.orch.Deploy(context.Background(), agent.ID))
	require.NoError(t, h.orch.Stop(context.Background(), agent.ID))

	got, err := h.agents.Get(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusStopped, got.Status)

	err = h.orch.Stop(context.Background(), "ghost")
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestReplicasStartsAtZero(t *testing.T) {
	h := newHarness(t)
	assert.Zero(t, h.orch.Replicas("anything"))
}
