// Package capability derives what an agent can do from its skill and tool
// graph, and answers discovery queries: combination suggestions, gap
// analysis, and tool recommendations.
package capability

import (
	"sort"
	"strings"

	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Base confidences per derivation source. Emergent pairs start lower since
// the composition is inferred, not declared.
const (
	confFromSkill    = 0.9
	confFromTool     = 0.8
	confFromConfig   = 0.7
	confFromEmergent = 0.6

	usageBonusThreshold = 50
	usageBonus          = 0.05
	missingReqPenalty   = 0.5
)

// Capability is a derived ability with provenance and confidence.
type Capability struct {
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	InputTypes     []string `json:"input_types,omitempty"`
	OutputTypes    []string `json:"output_types,omitempty"`
	Confidence     float64  `json:"confidence"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	RequiredTools  []string `json:"required_tools,omitempty"`
	Emergent       bool     `json:"emergent,omitempty"`
}

// Engine reads the registry to answer capability queries.
type Engine struct {
	agents *registry.AgentRegistry
	master *registry.MasterData
}

// NewEngine builds a capability engine over the registry.
func NewEngine(agents *registry.AgentRegistry, master *registry.MasterData) *Engine {
	return &Engine{agents: agents, master: master}
}

// Discover derives the agent's capabilities from four sources and merges
// duplicates. The result is sorted by confidence, descending.
func (e *Engine) Discover(agentID string) ([]Capability, error) {
	agent, err := e.agents.Get(agentID)
	if err != nil {
		return nil, err
	}

	skills := e.resolveSkills(agent.SkillRefs)
	tools := e.resolveTools(agent.ToolRefs)

	var raw []Capability

	// 1. One capability per skill.
	for _, skill := range skills {
		raw = append(raw, Capability{
			Name:           skill.Name,
			Category:       skill.Category,
			InputTypes:     sortedCopy(skill.InputTypes),
			OutputTypes:    sortedCopy(skill.OutputTypes),
			Confidence:     confFromSkill,
			RequiredSkills: []string{skill.Name},
		})
	}

	// 2. One capability per declared tool capability name.
	for _, tool := range tools {
		for _, name := range tool.Capabilities {
			raw = append(raw, Capability{
				Name:          name,
				Category:      "tool",
				InputTypes:    sortedCopy(tool.InputTypes),
				Confidence:    confFromTool,
				RequiredTools: []string{tool.Name},
			})
		}
	}

	// 3. The agent's explicit capability list.
	for _, name := range agent.Capabilities {
		raw = append(raw, Capability{
			Name:       name,
			Category:   "declared",
			Confidence: confFromConfig,
		})
	}

	// 4. Emergent: every (skill, tool) pair whose output/input types overlap.
	for _, skill := range skills {
		for _, tool := range tools {
			overlap := intersect(skill.OutputTypes, tool.InputTypes)
			if len(overlap) == 0 {
				continue
			}
			raw = append(raw, Capability{
				Name:           skill.Name + "+" + tool.Name,
				Category:       skill.Category,
				InputTypes:     sortedCopy(skill.InputTypes),
				OutputTypes:    sortedCopy(overlap),
				Confidence:     confFromEmergent,
				RequiredSkills: []string{skill.Name},
				RequiredTools:  []string{tool.Name},
				Emergent:       true,
			})
		}
	}

	merged := Merge(raw)

	ownedSkills := nameSet(skills)
	ownedTools := toolNameSet(tools)
	maxUsage := int64(0)
	for _, s := range skills {
		if s.UsageCount > maxUsage {
			maxUsage = s.UsageCount
		}
	}

	for i := range merged {
		c := &merged[i]
		if maxUsage >= usageBonusThreshold {
			c.Confidence += usageBonus
		}
		if !subset(c.RequiredSkills, ownedSkills) || !subset(c.RequiredTools, ownedTools) {
			c.Confidence *= missingReqPenalty
		}
		if c.Confidence > 1.0 {
			c.Confidence = 1.0
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged, nil
}

// Merge collapses capabilities sharing (category, inputs, outputs). The
// merged entry takes the max confidence and the union of requirements.
// Merge is idempotent and never grows the set.
func Merge(caps []Capability) []Capability {
	type slot struct {
		cap   Capability
		order int
	}
	byKey := make(map[string]*slot)
	var order []string

	for _, c := range caps {
		key := mergeKey(c)
		existing, ok := byKey[key]
		if !ok {
			c.InputTypes = sortedCopy(c.InputTypes)
			c.OutputTypes = sortedCopy(c.OutputTypes)
			c.RequiredSkills = sortedCopy(c.RequiredSkills)
			c.RequiredTools = sortedCopy(c.RequiredTools)
			byKey[key] = &slot{cap: c}
			order = append(order, key)
			continue
		}
		if c.Confidence > existing.cap.Confidence {
			existing.cap.Confidence = c.Confidence
		}
		existing.cap.RequiredSkills = union(existing.cap.RequiredSkills, c.RequiredSkills)
		existing.cap.RequiredTools = union(existing.cap.RequiredTools, c.RequiredTools)
		existing.cap.Emergent = existing.cap.Emergent && c.Emergent
	}

	out := make([]Capability, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key].cap)
	}
	return out
}

func mergeKey(c Capability) string {
	return c.Category + "\x00" + strings.Join(sortedCopy(c.InputTypes), ",") +
		"\x00" + strings.Join(sortedCopy(c.OutputTypes), ",")
}

func (e *Engine) resolveSkills(refs []string) []*types.Skill {
	var out []*types.Skill
	for _, ref := range refs {
		if skill, err := e.master.GetSkill(ref); err == nil {
			out = append(out, skill)
		}
	}
	return out
}

func (e *Engine) resolveTools(refs []string) []*types.Tool {
	var out []*types.Tool
	for _, ref := range refs {
		if tool, err := e.master.GetTool(ref); err == nil {
			out = append(out, tool)
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	var out []string
	for _, v := range b {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string(nil), a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func subset(needles []string, haystack map[string]bool) bool {
	for _, n := range needles {
		if !haystack[n] {
			return false
		}
	}
	return true
}

func nameSet(skills []*types.Skill) map[string]bool {
	set := make(map[string]bool, len(skills))
	for _, s := range skills {
		set[s.Name] = true
	}
	return set
}

func toolNameSet(tools []*types.Tool) map[string]bool {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t.Name] = true
	}
	return set
}
