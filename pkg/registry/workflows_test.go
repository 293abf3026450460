package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

func newWorkflows(t *testing.T) (*WorkflowStore, *AgentRegistry) {
	t.Helper()
	clk := clock.NewFake(testStart)
	agents := NewAgentRegistry(clk, nil)
	return NewWorkflowStore(clk, agents), agents
}

func TestWorkflowCreateDefaultsToDraft(t *testing.T) {
	s, agents := newWorkflows(t)
	agent := seedAgent(t, agents, "tenant-1", "step-1")

	w, err := s.Create(&types.Workflow{
		Name:    "pipeline",
		Kind:    types.WorkflowKindSequential,
		OwnerID: "tenant-1",
		Steps:   []types.WorkflowStep{{AgentID: agent.ID}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, types.WorkflowStatusDraft, w.Status)
	assert.Equal(t, testStart, w.CreatedAt)
}

func TestWorkflowCreateValidation(t *testing.T) {
	s, _ := newWorkflows(t)

	_, err := s.Create(&types.Workflow{Name: "", Kind: types.WorkflowKindSequential})
	assert.True(t, types.IsKind(err, types.ErrBadInput))

	_, err = s.Create(&types.Workflow{Name: "x", Kind: "spiral",
		Steps: []types.WorkflowStep{{AgentID: "a"}}})
	assert.True(t, types.IsKind(err, types.ErrBadInput))

	_, err = s.Create(&types.Workflow{Name: "x", Kind: types.WorkflowKindSequential})
	assert.True(t, types.IsKind(err, types.ErrBadInput))
}

func TestWorkflowActivateChecksAgentRefs(t *testing.T) {
	s, agents := newWorkflows(t)
	agent := seedAgent(t, agents, "tenant-1", "step-1")

	w, err := s.Create(&types.Workflow{
		Name:    "pipeline",
		Kind:    types.WorkflowKindSequential,
		OwnerID: "tenant-1",
		Steps: []types.WorkflowStep{
			{AgentID: agent.ID},
			{AgentID: "ghost"},
		},
	})
	require.NoError(t, err)

	_, err = s.Activate(w.ID)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
	assert.Contains(t, err.Error(), "ghost")

	got, err := s.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusDraft, got.Status)
}

func TestWorkflowActivateSucceeds(t *testing.T) {
	s, agents := newWorkflows(t)
	agent := seedAgent(t, agents, "tenant-1", "step-1")

	w, err := s.Create(&types.Workflow{
		Name:    "pipeline",
		Kind:    types.WorkflowKindSequential,
		OwnerID: "tenant-1",
		Steps:   []types.WorkflowStep{{AgentID: agent.ID}},
	})
	require.NoError(t, err)

	activated, err := s.Activate(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusActive, activated.Status)
}

func TestWorkflowDeleteOwnership(t *testing.T) {
	s, agents := newWorkflows(t)
	agent := seedAgent(t, agents, "tenant-1", "step-1")

	w, err := s.Create(&types.Workflow{
		Name:    "pipeline",
		Kind:    types.WorkflowKindSequential,
		OwnerID: "tenant-1",
		Steps:   []types.WorkflowStep{{AgentID: agent.ID}},
	})
	require.NoError(t, err)

	err = s.Delete(w.ID, "tenant-2")
	assert.True(t, types.IsKind(err, types.ErrForbidden))

	require.NoError(t, s.Delete(w.ID, "tenant-1"))
	_, err = s.Get(w.ID)
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestWorkflowListByOwner(t *testing.T) {
	s, agents := newWorkflows(t)
	agent := seedAgent(t, agents, "tenant-1", "step-1")
	step := []types.WorkflowStep{{AgentID: agent.ID}}

	for _, spec := range []struct{ name, owner string }{
		{"beta", "tenant-1"}, {"alpha", "tenant-1"}, {"gamma", "tenant-2"},
	} {
		_, err := s.Create(&types.Workflow{
			Name: spec.name, Kind: types.WorkflowKindSequential, OwnerID: spec.owner, Steps: step})
		require.NoError(t, err)
	}

	mine := s.List("tenant-1")
	require.Len(t, mine, 2)
	assert.Equal(t, "alpha", mine[0].Name)
	assert.Len(t, s.List(""), 3)
}
