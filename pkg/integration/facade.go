// Package integration provides batch and bulk surfaces over the registry:
// batch creates with partial-success semantics, export/import of
// self-contained snapshots, and template-driven agent instantiation.
package integration

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/template"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// SnapshotVersion tags exported snapshots; import refuses unknown versions.
const SnapshotVersion = "1"

// Formats accepted by Export and Import.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Outcome is the result of one element in a batch.
type Outcome struct {
	Index int    `json:"index" yaml:"index"`
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchResult aggregates a batch operation.
type BatchResult struct {
	Total      int       `json:"total" yaml:"total"`
	Successful int       `json:"successful" yaml:"successful"`
	Failed     int       `json:"failed" yaml:"failed"`
	Outcomes   []Outcome `json:"outcomes" yaml:"outcomes"`
}

func (r *BatchResult) add(index int, id string, err error) {
	r.Total++
	o := Outcome{Index: index, ID: id, OK: err == nil}
	if err != nil {
		o.Error = err.Error()
		r.Failed++
	} else {
		r.Successful++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Snapshot is the self-contained export shape.
type Snapshot struct {
	Version     string              `json:"version" yaml:"version"`
	ExportedAt  time.Time           `json:"exported_at" yaml:"exported_at"`
	Agents      []*types.Agent      `json:"agents,omitempty" yaml:"agents,omitempty"`
	Workflows   []*types.Workflow   `json:"workflows,omitempty" yaml:"workflows,omitempty"`
	Skills      []*types.Skill      `json:"skills,omitempty" yaml:"skills,omitempty"`
	Tools       []*types.Tool       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Constraints []*types.Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Templates   []*types.Template   `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// ImportReport breaks down an import per section.
type ImportReport struct {
	Skills      BatchResult `json:"skills" yaml:"skills"`
	Tools       BatchResult `json:"tools" yaml:"tools"`
	Constraints BatchResult `json:"constraints" yaml:"constraints"`
	Templates   BatchResult `json:"templates" yaml:"templates"`
	Agents      BatchResult `json:"agents" yaml:"agents"`
	Workflows   BatchResult `json:"workflows" yaml:"workflows"`
}

// Facade composes the registry stores for bulk operations.
type Facade struct {
	clk       clock.Clock
	agents    *registry.AgentRegistry
	workflows *registry.WorkflowStore
	master    *registry.MasterData
	templates *registry.TemplateStore
}

// New builds a facade over the given stores.
func New(clk clock.Clock, agents *registry.AgentRegistry, workflows *registry.WorkflowStore,
	master *registry.MasterData, templates *registry.TemplateStore) *Facade {
	return &Facade{
		clk:       clk,
		agents:    agents,
		workflows: workflows,
		master:    master,
		templates: templates,
	}
}

// BatchCreateAgents attempts each agent in isolation.
func (f *Facade) BatchCreateAgents(agents []*types.Agent) BatchResult {
	var result BatchResult
	for i, a := range agents {
		created, err := f.agents.Create(a)
		id := ""
		if created != nil {
			id = created.ID
		}
		result.add(i, id, err)
	}
	return result
}

// BatchCreateWorkflows attempts each workflow in isolation.
func (f *Facade) BatchCreateWorkflows(workflows []*types.Workflow) BatchResult {
	var result BatchResult
	for i, w := range workflows {
		created, err := f.workflows.Create(w)
		id := ""
		if created != nil {
			id = created.ID
		}
		result.add(i, id, err)
	}
	return result
}

// Export produces a snapshot of everything visible to the owner (all owners
// when ownerID is empty), encoded per format.
func (f *Facade) Export(ownerID, format string) ([]byte, error) {
	snap := Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  f.clk.Now(),
		Agents:      f.agents.List(ownerID),
		Workflows:   f.workflows.List(ownerID),
		Skills:      f.master.ListSkills(),
		Tools:       f.master.ListTools(),
		Constraints: f.master.ListConstraints(),
		Templates:   f.templates.List(),
	}
	return encode(snap, format)
}

// Import decodes a snapshot and applies it element by element through the
// regular create paths. Failures never abort the remaining elements.
func (f *Facade) Import(data []byte, format string) (*ImportReport, error) {
	var snap Snapshot
	if err := decode(data, format, &snap); err != nil {
		return nil, err
	}
	if snap.Version != SnapshotVersion {
		return nil, types.NewError(types.ErrBadInput,
			"unsupported snapshot version %q", snap.Version)
	}

	report := &ImportReport{}

	// Master data and templates first so imported agents can reference them.
	for i, s := range snap.Skills {
		created, err := f.master.CreateSkill(s)
		report.Skills.add(i, idOf(created, err), err)
	}
	for i, t := range snap.Tools {
		created, err := f.master.CreateTool(t)
		report.Tools.add(i, idOf(created, err), err)
	}
	for i, c := range snap.Constraints {
		created, err := f.master.CreateConstraint(c)
		report.Constraints.add(i, idOf(created, err), err)
	}
	for i, t := range snap.Templates {
		created, err := f.templates.Create(t)
		report.Templates.add(i, idOf(created, err), err)
	}
	report.Agents = f.BatchCreateAgents(snap.Agents)
	report.Workflows = f.BatchCreateWorkflows(snap.Workflows)

	return report, nil
}

// InstantiateSpec names the template and fills in the agent identity.
type InstantiateSpec struct {
	TemplateID string
	Name       string
	OwnerID    string
	Model      string
	Params     map[string]any
}

// InstantiateAgent renders an agent template and registers the result. The
// render is pure; only the registry create mutates state.
func (f *Facade) InstantiateAgent(spec InstantiateSpec) (*types.Agent, error) {
	tpl, err := f.templates.Get(spec.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl.Kind != types.TemplateKindAgent {
		return nil, types.NewError(types.ErrBadInput,
			"template %s is a %s template, not an agent template", tpl.ID, tpl.Kind)
	}

	body, err := template.Render(tpl, spec.Params)
	if err != nil {
		return nil, err
	}

	return f.agents.Create(&types.Agent{
		Name:         spec.Name,
		Kind:         types.AgentKindTemplated,
		OwnerID:      spec.OwnerID,
		Model:        spec.Model,
		SystemPrompt: body,
		TemplateID:   tpl.ID,
	})
}

func encode(v any, format string) ([]byte, error) {
	switch format {
	case FormatYAML, "":
		return yaml.Marshal(v)
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	default:
		return nil, types.NewError(types.ErrBadInput, "unsupported format %q", format)
	}
}

func decode(data []byte, format string, v any) error {
	switch format {
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, v); err != nil {
			return types.WrapError(types.ErrBadInput, err, "malformed yaml snapshot")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return types.WrapError(types.ErrBadInput, err, "malformed json snapshot")
		}
	default:
		return types.NewError(types.ErrBadInput, "unsupported format %q", format)
	}
	return nil
}

func idOf(created any, err error) string {
	if err != nil {
		return ""
	}
	switch v := created.(type) {
	case *types.Skill:
		return v.ID
	case *types.Tool:
		return v.ID
	case *types.Constraint:
		return v.ID
	case *types.Template:
		return v.ID
	default:
		return ""
	}
}
