package registry

import (
	"sort"
	"sync"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// WorkflowStore holds workflow definitions. Activation re-checks that every
// referenced agent exists.
type WorkflowStore struct {
	mu        sync.RWMutex
	clk       clock.Clock
	workflows map[string]*types.Workflow
	agents    *AgentRegistry
}

// NewWorkflowStore builds a store validating agent refs against agents.
func NewWorkflowStore(clk clock.Clock, agents *AgentRegistry) *WorkflowStore {
	return &WorkflowStore{
		clk:       clk,
		workflows: make(map[string]*types.Workflow),
		agents:    agents,
	}
}

// Create stores a workflow in draft (or the provided status after validation).
func (s *WorkflowStore) Create(w *types.Workflow) (*types.Workflow, error) {
	if w == nil || w.Name == "" {
		return nil, types.NewError(types.ErrBadInput, "workflow name is required")
	}
	switch w.Kind {
	case types.WorkflowKindSequential, types.WorkflowKindParallel, types.WorkflowKindConditional:
	default:
		return nil, types.NewError(types.ErrBadInput, "unknown workflow kind %q", w.Kind)
	}
	if len(w.Steps) == 0 {
		return nil, types.NewError(types.ErrBadInput, "workflow needs at least one step")
	}

	now := s.clk.Now()
	c := *w
	c.Steps = append([]types.WorkflowStep(nil), w.Steps...)
	if c.ID == "" {
		c.ID = clock.NewID()
	}
	if c.Status == "" {
		c.Status = types.WorkflowStatusDraft
	}
	if c.Status == types.WorkflowStatusActive {
		if err := s.checkAgents(&c); err != nil {
			return nil, err
		}
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[c.ID]; exists {
		return nil, types.NewError(types.ErrConflict, "workflow %s already exists", c.ID)
	}
	s.workflows[c.ID] = &c
	out := c
	return &out, nil
}

// Get returns a copy of the workflow.
func (s *WorkflowStore) Get(id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "workflow %s not found", id)
	}
	c := *w
	c.Steps = append([]types.WorkflowStep(nil), w.Steps...)
	return &c, nil
}

// List returns workflows, optionally filtered by owner.
func (s *WorkflowStore) List(ownerID string) []*types.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Workflow
	for _, w := range s.workflows {
		if ownerID != "" && w.OwnerID != ownerID {
			continue
		}
		c := *w
		c.Steps = append([]types.WorkflowStep(nil), w.Steps...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Activate validates agent references and transitions the workflow to active.
func (s *WorkflowStore) Activate(id string) (*types.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "workflow %s not found", id)
	}
	if err := s.checkAgents(w); err != nil {
		return nil, err
	}
	w.Status = types.WorkflowStatusActive
	w.UpdatedAt = s.clk.Now()
	c := *w
	return &c, nil
}

// SetStatus transitions the workflow without validation.
func (s *WorkflowStore) SetStatus(id string, status types.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "workflow %s not found", id)
	}
	w.Status = status
	w.UpdatedAt = s.clk.Now()
	return nil
}

// Delete removes the workflow. callerID must be the owner when set.
func (s *WorkflowStore) Delete(id, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "workflow %s not found", id)
	}
	if callerID != "" && w.OwnerID != callerID {
		return types.NewError(types.ErrForbidden, "caller %s does not own workflow %s", callerID, id)
	}
	delete(s.workflows, id)
	return nil
}

func (s *WorkflowStore) checkAgents(w *types.Workflow) error {
	if s.agents == nil {
		return nil
	}
	for _, step := range w.Steps {
		if _, err := s.agents.Get(step.AgentID); err != nil {
			return types.NewError(types.ErrBadInput,
				"workflow %s references missing agent %s", w.Name, step.AgentID)
		}
	}
	return nil
}
