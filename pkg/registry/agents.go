package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

const (
	maxPromptLength = 10_000
	maxCapabilities = 20
)

// AgentRegistry owns agent records and their immutable version chains.
// Guarantees: slug uniqueness per owner, atomic update-plus-version append,
// and version immutability.
type AgentRegistry struct {
	mu       sync.RWMutex
	clk      clock.Clock
	agents   map[string]*types.Agent          // by id
	byOwner  map[string]map[string]string     // ownerID -> slug -> agentID
	versions map[string][]*types.AgentVersion // agentID -> versions, oldest first

	supportedModels map[string]bool
}

// NewAgentRegistry builds a registry. supportedModels is the configured set
// of LLM model names accepted without a warning.
func NewAgentRegistry(clk clock.Clock, supportedModels []string) *AgentRegistry {
	supported := make(map[string]bool, len(supportedModels))
	for _, m := range supportedModels {
		supported[m] = true
	}
	return &AgentRegistry{
		clk:             clk,
		agents:          make(map[string]*types.Agent),
		byOwner:         make(map[string]map[string]string),
		versions:        make(map[string][]*types.AgentVersion),
		supportedModels: supported,
	}
}

// Create registers a new agent. The slug must be unique per owner.
func (r *AgentRegistry) Create(agent *types.Agent) (*types.Agent, error) {
	if agent == nil {
		return nil, types.NewError(types.ErrBadInput, "agent is required")
	}
	if agent.Name == "" || agent.OwnerID == "" {
		return nil, types.NewError(types.ErrBadInput, "agent name and owner are required")
	}
	if agent.Kind != types.AgentKindTemplated && agent.Kind != types.AgentKindExternal {
		return nil, types.NewError(types.ErrBadInput, "unknown agent kind %q", agent.Kind)
	}

	now := r.clk.Now()
	stored := agent.Clone()
	if stored.ID == "" {
		stored.ID = clock.NewID()
	}
	if stored.Status == "" {
		stored.Status = types.AgentStatusInactive
	}
	if stored.Version == "" {
		stored.Version = "1.0.0"
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.byOwner[stored.OwnerID]
	if owned == nil {
		owned = make(map[string]string)
		r.byOwner[stored.OwnerID] = owned
	}
	if _, exists := owned[stored.Name]; exists {
		return nil, types.NewError(types.ErrConflict,
			"agent %q already exists for owner %s", stored.Name, stored.OwnerID)
	}
	if _, exists := r.agents[stored.ID]; exists {
		return nil, types.NewError(types.ErrConflict, "agent id %s already exists", stored.ID)
	}

	r.agents[stored.ID] = stored
	owned[stored.Name] = stored.ID

	initial := &types.AgentVersion{
		ID:           clock.NewID(),
		AgentID:      stored.ID,
		Version:      stored.Version,
		Config:       copyMap(stored.Config),
		SystemPrompt: stored.SystemPrompt,
		ToolRefs:     append([]string(nil), stored.ToolRefs...),
		Changelog:    "initial version",
		CreatedAt:    now,
	}
	r.versions[stored.ID] = []*types.AgentVersion{initial}

	return stored.Clone(), nil
}

// Get returns a copy of the agent.
func (r *AgentRegistry) Get(id string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "agent %s not found", id)
	}
	return agent.Clone(), nil
}

// GetByName resolves an owner's slug.
func (r *AgentRegistry) GetByName(ownerID, name string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOwner[ownerID][name]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "agent %q not found for owner %s", name, ownerID)
	}
	return r.agents[id].Clone(), nil
}

// List returns all agents, optionally filtered by owner, sorted by name.
func (r *AgentRegistry) List(ownerID string) []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Agent
	for _, agent := range r.agents {
		if ownerID != "" && agent.OwnerID != ownerID {
			continue
		}
		out = append(out, agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateSpec carries the mutable configuration of an agent.
type UpdateSpec struct {
	Config       map[string]string
	SystemPrompt *string
	Model        *string
	ToolRefs     []string
	SkillRefs    []string
	Capabilities []string
	Changelog    string
}

// Update applies the spec and appends a new version atomically: the version
// snapshot reflects the agent's configuration at the instant it was created.
// Returns the updated agent and any non-fatal validation warnings.
// callerID must be the owner; an empty callerID is an internal call.
func (r *AgentRegistry) Update(id, callerID string, spec UpdateSpec) (*types.Agent, []string, error) {
	warnings, err := r.validateSpec(spec)
	if err != nil {
		return nil, nil, err
	}

	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, nil, types.NewError(types.ErrNotFound, "agent %s not found", id)
	}
	if callerID != "" && agent.OwnerID != callerID {
		return nil, nil, types.NewError(types.ErrForbidden, "caller %s does not own agent %s", callerID, id)
	}

	if spec.Config != nil {
		agent.Config = copyMap(spec.Config)
	}
	if spec.SystemPrompt != nil {
		agent.SystemPrompt = *spec.SystemPrompt
	}
	if spec.Model != nil {
		agent.Model = *spec.Model
	}
	if spec.ToolRefs != nil {
		agent.ToolRefs = append([]string(nil), spec.ToolRefs...)
	}
	if spec.SkillRefs != nil {
		agent.SkillRefs = append([]string(nil), spec.SkillRefs...)
	}
	if spec.Capabilities != nil {
		agent.Capabilities = append([]string(nil), spec.Capabilities...)
	}

	next := nextVersion(agent.Version)
	agent.Version = next
	agent.UpdatedAt = now

	changelog := spec.Changelog
	if changelog == "" {
		changelog = "configuration update"
	}
	version := &types.AgentVersion{
		ID:           clock.NewID(),
		AgentID:      id,
		Version:      next,
		Config:       copyMap(agent.Config),
		SystemPrompt: agent.SystemPrompt,
		ToolRefs:     append([]string(nil), agent.ToolRefs...),
		Changelog:    changelog,
		CreatedAt:    now,
	}
	r.versions[id] = append(r.versions[id], version)

	return agent.Clone(), warnings, nil
}

// Versions returns the agent's version chain, oldest first.
func (r *AgentRegistry) Versions(id string) ([]*types.AgentVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.agents[id]; !ok {
		return nil, types.NewError(types.ErrNotFound, "agent %s not found", id)
	}
	chain := r.versions[id]
	out := make([]*types.AgentVersion, len(chain))
	for i, v := range chain {
		c := *v
		c.Config = copyMap(v.Config)
		c.ToolRefs = append([]string(nil), v.ToolRefs...)
		out[i] = &c
	}
	return out, nil
}

// Revert copies (configuration, prompt, tools) from the named prior version
// into the agent row and stamps a fresh version describing the rollback.
// The referenced prior version remains intact.
func (r *AgentRegistry) Revert(id, callerID, targetVersion string) (*types.Agent, error) {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "agent %s not found", id)
	}
	if callerID != "" && agent.OwnerID != callerID {
		return nil, types.NewError(types.ErrForbidden, "caller %s does not own agent %s", callerID, id)
	}

	var target *types.AgentVersion
	for _, v := range r.versions[id] {
		if v.Version == targetVersion {
			target = v
			break
		}
	}
	if target == nil {
		return nil, types.NewError(types.ErrNotFound, "version %s not found for agent %s", targetVersion, id)
	}

	agent.Config = copyMap(target.Config)
	agent.SystemPrompt = target.SystemPrompt
	agent.ToolRefs = append([]string(nil), target.ToolRefs...)

	next := nextVersion(agent.Version)
	agent.Version = next
	agent.UpdatedAt = now

	rollback := &types.AgentVersion{
		ID:           clock.NewID(),
		AgentID:      id,
		Version:      next,
		Config:       copyMap(agent.Config),
		SystemPrompt: agent.SystemPrompt,
		ToolRefs:     append([]string(nil), agent.ToolRefs...),
		Changelog:    fmt.Sprintf("rollback to %s", targetVersion),
		CreatedAt:    now,
	}
	r.versions[id] = append(r.versions[id], rollback)

	return agent.Clone(), nil
}

// Delete removes the agent and its versions.
func (r *AgentRegistry) Delete(id, callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent %s not found", id)
	}
	if callerID != "" && agent.OwnerID != callerID {
		return types.NewError(types.ErrForbidden, "caller %s does not own agent %s", callerID, id)
	}

	delete(r.agents, id)
	delete(r.versions, id)
	if owned := r.byOwner[agent.OwnerID]; owned != nil {
		delete(owned, agent.Name)
	}
	return nil
}

// DeleteByOwner cascades owner deletion onto every agent the owner holds.
func (r *AgentRegistry) DeleteByOwner(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for slug, id := range r.byOwner[ownerID] {
		delete(r.agents, id)
		delete(r.versions, id)
		delete(r.byOwner[ownerID], slug)
		n++
	}
	delete(r.byOwner, ownerID)
	return n
}

// SetStatus transitions the agent, recording endpoint and probe when the
// agent becomes active. Enforces: active implies endpoint and probe set.
func (r *AgentRegistry) SetStatus(id string, status types.AgentStatus, endpoint, probeURL, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent %s not found", id)
	}

	if status == types.AgentStatusActive {
		if endpoint == "" {
			endpoint = agent.Endpoint
		}
		if probeURL == "" {
			probeURL = agent.ProbeURL
		}
		if endpoint == "" || probeURL == "" {
			return types.NewError(types.ErrInternal,
				"agent %s cannot become active without endpoint and probe", id)
		}
	}

	agent.Status = status
	if endpoint != "" {
		agent.Endpoint = endpoint
	}
	if probeURL != "" {
		agent.ProbeURL = probeURL
	}
	if lastError != "" {
		agent.LastError = lastError
	}
	agent.UpdatedAt = r.clk.Now()
	return nil
}

// RecordInvocation bumps usage counters after a dispatch.
func (r *AgentRegistry) RecordInvocation(id string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return
	}
	agent.UsageCount++
	agent.LastUsedAt = r.clk.Now()
	if failed {
		agent.ErrorCount++
	}
}

// SetLastError records a failure reason without changing status.
func (r *AgentRegistry) SetLastError(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent, ok := r.agents[id]; ok {
		agent.LastError = message
		agent.UpdatedAt = r.clk.Now()
	}
}

func (r *AgentRegistry) validateSpec(spec UpdateSpec) ([]string, error) {
	var warnings []string
	if spec.SystemPrompt != nil && len(*spec.SystemPrompt) > maxPromptLength {
		warnings = append(warnings,
			fmt.Sprintf("system prompt is %d chars, above the %d recommendation", len(*spec.SystemPrompt), maxPromptLength))
	}
	if len(spec.Capabilities) > maxCapabilities {
		warnings = append(warnings,
			fmt.Sprintf("%d capabilities declared, above the %d recommendation", len(spec.Capabilities), maxCapabilities))
	}
	if spec.Model != nil && *spec.Model != "" && len(r.supportedModels) > 0 && !r.supportedModels[*spec.Model] {
		warnings = append(warnings, fmt.Sprintf("model %q is not in the supported set", *spec.Model))
	}
	return warnings, nil
}

// nextVersion computes major.minor.(patch+1); malformed input restarts at 1.0.0.
func nextVersion(current string) string {
	parts := strings.Split(current, ".")
	if len(parts) != 3 {
		return "1.0.0"
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	patch, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "1.0.0"
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch+1)
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
