package registry

import (
	"sort"
	"sync"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// MasterData stores skills, tools, and constraints. Agent references are
// first-class so deletion can be reference-count checked.
type MasterData struct {
	mu          sync.RWMutex
	skills      map[string]*types.Skill
	tools       map[string]*types.Tool
	constraints map[string]*types.Constraint
	agents      *AgentRegistry
}

// NewMasterData builds master-data storage. The agent registry is consulted
// for reference checks on delete.
func NewMasterData(agents *AgentRegistry) *MasterData {
	return &MasterData{
		skills:      make(map[string]*types.Skill),
		tools:       make(map[string]*types.Tool),
		constraints: make(map[string]*types.Constraint),
		agents:      agents,
	}
}

// ---------------------------------------------------------------------------
// Skills
// ---------------------------------------------------------------------------

func (m *MasterData) CreateSkill(skill *types.Skill) (*types.Skill, error) {
	if skill == nil || skill.Name == "" {
		return nil, types.NewError(types.ErrBadInput, "skill name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if skill.ID == "" {
		skill.ID = clock.NewID()
	}
	if _, exists := m.skills[skill.ID]; exists {
		return nil, types.NewError(types.ErrConflict, "skill %s already exists", skill.ID)
	}
	c := *skill
	m.skills[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MasterData) GetSkill(id string) (*types.Skill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "skill %s not found", id)
	}
	c := *s
	return &c, nil
}

func (m *MasterData) ListSkills() []*types.Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Skill, 0, len(m.skills))
	for _, s := range m.skills {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeleteSkill fails with in-use while any agent references the skill.
func (m *MasterData) DeleteSkill(id string) error {
	if n := m.referencingAgents(id, func(a *types.Agent) []string { return a.SkillRefs }); n > 0 {
		return types.NewError(types.ErrInUse, "skill %s is referenced by %d agent(s)", id, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.skills[id]; !ok {
		return types.NewError(types.ErrNotFound, "skill %s not found", id)
	}
	delete(m.skills, id)
	return nil
}

// BumpSkillUsage increments a skill's usage counter.
func (m *MasterData) BumpSkillUsage(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.skills[id]; ok {
		s.UsageCount++
	}
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

func (m *MasterData) CreateTool(tool *types.Tool) (*types.Tool, error) {
	if tool == nil || tool.Name == "" {
		return nil, types.NewError(types.ErrBadInput, "tool name is required")
	}
	switch tool.Kind {
	case types.ToolKindRest, types.ToolKindFunction, types.ToolKindMCP, types.ToolKindBuiltin:
	default:
		return nil, types.NewError(types.ErrBadInput, "unknown tool kind %q", tool.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tool.ID == "" {
		tool.ID = clock.NewID()
	}
	if _, exists := m.tools[tool.ID]; exists {
		return nil, types.NewError(types.ErrConflict, "tool %s already exists", tool.ID)
	}
	c := *tool
	m.tools[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MasterData) GetTool(id string) (*types.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "tool %s not found", id)
	}
	c := *t
	return &c, nil
}

func (m *MasterData) ListTools() []*types.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MasterData) DeleteTool(id string) error {
	if n := m.referencingAgents(id, func(a *types.Agent) []string { return a.ToolRefs }); n > 0 {
		return types.NewError(types.ErrInUse, "tool %s is referenced by %d agent(s)", id, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[id]; !ok {
		return types.NewError(types.ErrNotFound, "tool %s not found", id)
	}
	delete(m.tools, id)
	return nil
}

// RecordToolExecution folds one run into the tool's execution stats.
func (m *MasterData) RecordToolExecution(id string, success bool, elapsedMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[id]
	if !ok {
		return
	}
	total := float64(t.Stats.Total)
	t.Stats.AvgMillis = (t.Stats.AvgMillis*total + elapsedMS) / (total + 1)
	t.Stats.Total++
	if success {
		t.Stats.Success++
	} else {
		t.Stats.Failed++
	}
}

// ---------------------------------------------------------------------------
// Constraints
// ---------------------------------------------------------------------------

func (m *MasterData) CreateConstraint(constraint *types.Constraint) (*types.Constraint, error) {
	if constraint == nil || constraint.Name == "" {
		return nil, types.NewError(types.ErrBadInput, "constraint name is required")
	}
	switch constraint.Kind {
	case types.ConstraintKindValidation, types.ConstraintKindSecurity, types.ConstraintKindPerformance:
	default:
		return nil, types.NewError(types.ErrBadInput, "unknown constraint kind %q", constraint.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if constraint.ID == "" {
		constraint.ID = clock.NewID()
	}
	if _, exists := m.constraints[constraint.ID]; exists {
		return nil, types.NewError(types.ErrConflict, "constraint %s already exists", constraint.ID)
	}
	c := *constraint
	m.constraints[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MasterData) GetConstraint(id string) (*types.Constraint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.constraints[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "constraint %s not found", id)
	}
	copied := *c
	return &copied, nil
}

func (m *MasterData) ListConstraints() []*types.Constraint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Constraint, 0, len(m.constraints))
	for _, c := range m.constraints {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MasterData) DeleteConstraint(id string) error {
	if n := m.referencingAgents(id, func(a *types.Agent) []string { return a.ConstraintRefs }); n > 0 {
		return types.NewError(types.ErrInUse, "constraint %s is referenced by %d agent(s)", id, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.constraints[id]; !ok {
		return types.NewError(types.ErrNotFound, "constraint %s not found", id)
	}
	delete(m.constraints, id)
	return nil
}

func (m *MasterData) referencingAgents(id string, refs func(*types.Agent) []string) int {
	if m.agents == nil {
		return 0
	}
	n := 0
	for _, agent := range m.agents.List("") {
		for _, ref := range refs(agent) {
			if ref == id {
				n++
				break
			}
		}
	}
	return n
}
