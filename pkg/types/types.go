// Package types defines the shared data model of the agent mesh control
// plane: agents, versions, master data, workflows, executions, traces,
// metrics, alerts, and the error taxonomy used across components.
package types

import (
	"time"
)

// ============================================================================
// AGENT MODEL
// ============================================================================

// AgentKind discriminates how an agent's runtime is provided.
type AgentKind string

const (
	// AgentKindTemplated agents are spawned by the control plane from a template.
	AgentKindTemplated AgentKind = "templated"
	// AgentKindExternal agents are owned elsewhere; the control plane only routes.
	AgentKindExternal AgentKind = "external"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusInactive  AgentStatus = "inactive"
	AgentStatusDeploying AgentStatus = "deploying"
	AgentStatusActive    AgentStatus = "active"
	AgentStatusError     AgentStatus = "error"
	AgentStatusStopped   AgentStatus = "stopped"
)

// Agent is the authoritative record of a logical worker.
// Invariant: Status == active implies Endpoint and ProbeURL are set.
type Agent struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"` // slug, unique per owner
	DisplayName  string      `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	Kind         AgentKind   `json:"kind" yaml:"kind"`
	Status       AgentStatus `json:"status" yaml:"status"`
	OwnerID      string      `json:"owner_id" yaml:"owner_id"`
	Version      string      `json:"version" yaml:"version"` // semver
	Config       map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Model        string      `json:"model,omitempty" yaml:"model,omitempty"`

	Capabilities  []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	SkillRefs     []string `json:"skill_refs,omitempty" yaml:"skill_refs,omitempty"`
	ToolRefs      []string `json:"tool_refs,omitempty" yaml:"tool_refs,omitempty"`
	ConstraintRefs []string `json:"constraint_refs,omitempty" yaml:"constraint_refs,omitempty"`

	InputSchema  *Schema  `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema *Schema  `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// TemplateID and Artifact are only set for templated agents.
	TemplateID string `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	Artifact   string `json:"artifact,omitempty" yaml:"artifact,omitempty"`

	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ProbeURL  string `json:"probe_url,omitempty" yaml:"probe_url,omitempty"`
	AuthToken string `json:"-" yaml:"-"`

	DesiredReplicas int `json:"desired_replicas,omitempty" yaml:"desired_replicas,omitempty"`

	LastUsedAt time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
	UsageCount int64     `json:"usage_count" yaml:"usage_count"`
	ErrorCount int64     `json:"error_count" yaml:"error_count"`
	LastError  string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Config = cloneStringMap(a.Config)
	c.Capabilities = append([]string(nil), a.Capabilities...)
	c.SkillRefs = append([]string(nil), a.SkillRefs...)
	c.ToolRefs = append([]string(nil), a.ToolRefs...)
	c.ConstraintRefs = append([]string(nil), a.ConstraintRefs...)
	c.Tags = append([]string(nil), a.Tags...)
	return &c
}

// AgentVersion is an immutable snapshot created on every successful
// configuration update and before every rollback.
type AgentVersion struct {
	ID           string            `json:"id" yaml:"id"`
	AgentID      string            `json:"agent_id" yaml:"agent_id"`
	Version      string            `json:"version" yaml:"version"`
	Config       map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	ToolRefs     []string          `json:"tool_refs,omitempty" yaml:"tool_refs,omitempty"`
	Changelog    string            `json:"changelog,omitempty" yaml:"changelog,omitempty"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at"`
}

// ============================================================================
// MASTER DATA
// ============================================================================

// Skill is a declared capability unit with typed inputs and outputs.
type Skill struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Category      string   `json:"category" yaml:"category"`
	InputTypes    []string `json:"input_types,omitempty" yaml:"input_types,omitempty"`
	OutputTypes   []string `json:"output_types,omitempty" yaml:"output_types,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	UsageCount    int64    `json:"usage_count" yaml:"usage_count"`
}

// ToolKind discriminates how a tool is invoked.
type ToolKind string

const (
	ToolKindRest     ToolKind = "rest"
	ToolKindFunction ToolKind = "function"
	ToolKindMCP      ToolKind = "mcp"
	ToolKindBuiltin  ToolKind = "builtin"
)

// ToolStats carries execution statistics for a tool.
type ToolStats struct {
	Total     int64   `json:"total" yaml:"total"`
	Success   int64   `json:"success" yaml:"success"`
	Failed    int64   `json:"failed" yaml:"failed"`
	AvgMillis float64 `json:"avg_ms" yaml:"avg_ms"`
}

// Tool is an invocable external capability.
type Tool struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Kind         ToolKind  `json:"kind" yaml:"kind"`
	Endpoint     string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AuthKind     string    `json:"auth_kind,omitempty" yaml:"auth_kind,omitempty"` // none, api_key, oauth, custom
	Schema       *Schema   `json:"schema,omitempty" yaml:"schema,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	InputTypes   []string  `json:"input_types,omitempty" yaml:"input_types,omitempty"`
	Active       bool      `json:"active" yaml:"active"`
	HasDocs      bool      `json:"has_docs" yaml:"has_docs"`
	Stats        ToolStats `json:"stats" yaml:"stats"`
}

// ConstraintKind classifies a constraint rule.
type ConstraintKind string

const (
	ConstraintKindValidation  ConstraintKind = "validation"
	ConstraintKindSecurity    ConstraintKind = "security"
	ConstraintKindPerformance ConstraintKind = "performance"
)

// Constraint is a validation, security, or performance rule applied to an agent.
type Constraint struct {
	ID   string         `json:"id" yaml:"id"`
	Name string         `json:"name" yaml:"name"`
	Kind ConstraintKind `json:"kind" yaml:"kind"`
	Rule string         `json:"rule" yaml:"rule"`
}

// ============================================================================
// TEMPLATES
// ============================================================================

// TemplateKind classifies what a template instantiates.
type TemplateKind string

const (
	TemplateKindAgent    TemplateKind = "agent"
	TemplateKindTool     TemplateKind = "tool"
	TemplateKindWorkflow TemplateKind = "workflow"
)

// Template holds a body with {{placeholders}} and a parameter schema.
type Template struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Kind       TemplateKind      `json:"kind" yaml:"kind"`
	Category   string            `json:"category,omitempty" yaml:"category,omitempty"`
	Body       string            `json:"body" yaml:"body"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"` // name -> type
	Required   []string          `json:"required,omitempty" yaml:"required,omitempty"`
	Version    string            `json:"version" yaml:"version"`
	OwnerID    string            `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
}

// ============================================================================
// WORKFLOWS
// ============================================================================

// WorkflowKind selects the execution strategy.
type WorkflowKind string

const (
	WorkflowKindSequential  WorkflowKind = "sequential"
	WorkflowKindParallel    WorkflowKind = "parallel"
	WorkflowKindConditional WorkflowKind = "conditional"
)

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// ConditionOperator compares a bag field against a literal.
type ConditionOperator string

const (
	ConditionEquals      ConditionOperator = "equals"
	ConditionNotEquals   ConditionOperator = "not-equals"
	ConditionContains    ConditionOperator = "contains"
	ConditionGreaterThan ConditionOperator = "greater-than"
	ConditionLessThan    ConditionOperator = "less-than"
)

// StepCondition gates a conditional workflow step. A nil condition always passes.
type StepCondition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    any               `json:"value" yaml:"value"`
}

// WorkflowStep references an agent plus the mapping from the current bag
// into the step input. Mapping values are dotted paths in the source bag.
type WorkflowStep struct {
	AgentID      string            `json:"agent_id" yaml:"agent_id"`
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"`
	InputMapping map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	Condition    *StepCondition    `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Workflow is an ordered plan of agent invocations.
type Workflow struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Kind      WorkflowKind   `json:"kind" yaml:"kind"`
	Status    WorkflowStatus `json:"status" yaml:"status"`
	OwnerID   string         `json:"owner_id" yaml:"owner_id"`
	Steps     []WorkflowStep `json:"steps" yaml:"steps"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// ExecutionStatus is the state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// StepStatus is the state of one step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepExecution records the progress of a single step.
type StepExecution struct {
	AgentID     string     `json:"agent_id" yaml:"agent_id"`
	Status      StepStatus `json:"status" yaml:"status"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Execution is the record of one workflow run. Outputs are keyed by agent id.
type Execution struct {
	ID          string                    `json:"id" yaml:"id"`
	WorkflowID  string                    `json:"workflow_id" yaml:"workflow_id"`
	Input       map[string]any            `json:"input" yaml:"input"`
	Steps       []StepExecution           `json:"steps" yaml:"steps"`
	Outputs     map[string]map[string]any `json:"outputs" yaml:"outputs"`
	Context     map[string]any            `json:"context,omitempty" yaml:"context,omitempty"`
	Status      ExecutionStatus           `json:"status" yaml:"status"`
	Error       string                    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time                 `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// ============================================================================
// TRACES AND METRICS
// ============================================================================

// TraceStatus is the lifecycle state of a trace.
type TraceStatus string

const (
	TraceStatusStarted TraceStatus = "started"
	TraceStatusSuccess TraceStatus = "success"
	TraceStatusError   TraceStatus = "error"
)

// LLMUsage records model consumption for one invocation.
type LLMUsage struct {
	Model  string  `json:"model" yaml:"model"`
	Tokens int64   `json:"tokens" yaml:"tokens"`
	Cost   float64 `json:"cost" yaml:"cost"`
}

// Trace records one invocation's lifecycle. Spans form a tree via ParentSpanID.
type Trace struct {
	ID           string         `json:"id" yaml:"id"`
	ParentSpanID string         `json:"parent_span_id,omitempty" yaml:"parent_span_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	EntityID     string         `json:"entity_id" yaml:"entity_id"`
	UserID       string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Input        map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty" yaml:"output,omitempty"`
	Usage        *LLMUsage      `json:"llm_usage,omitempty" yaml:"llm_usage,omitempty"`
	Status       TraceStatus    `json:"status" yaml:"status"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at" yaml:"started_at"`
	EndedAt      time.Time      `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	DurationMS   int64          `json:"duration_ms" yaml:"duration_ms"`
}

// SystemOwner is the owner id used for metrics not tied to a single agent.
const SystemOwner = "system"

// Sample is a single time-stamped metric observation.
type Sample struct {
	OwnerID   string            `json:"owner_id" yaml:"owner_id"`
	Name      string            `json:"name" yaml:"name"`
	Value     float64           `json:"value" yaml:"value"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty" yaml:"unit,omitempty"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
}

// ============================================================================
// ALERTS
// ============================================================================

// CompareOperator is the rule predicate operator.
type CompareOperator string

const (
	OpLessThan       CompareOperator = "<"
	OpLessOrEqual    CompareOperator = "<="
	OpEqual          CompareOperator = "=="
	OpNotEqual       CompareOperator = "!="
	OpGreaterOrEqual CompareOperator = ">="
	OpGreaterThan    CompareOperator = ">"
)

// Severity ranks alert importance.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SinkConfig selects a notification sink plus its settings.
type SinkConfig struct {
	Kind     string            `json:"kind" yaml:"kind"` // webhook, email, chat
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// AlertRule is a predicate over a metric with duration hysteresis.
type AlertRule struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	MetricName   string            `json:"metric_name" yaml:"metric_name"`
	Operator     CompareOperator   `json:"operator" yaml:"operator"`
	Threshold    float64           `json:"threshold" yaml:"threshold"`
	HoldDuration time.Duration     `json:"hold_duration" yaml:"hold_duration"`
	Severity     Severity          `json:"severity" yaml:"severity"`
	Actions      []SinkConfig      `json:"actions,omitempty" yaml:"actions,omitempty"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Labels       map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// AlertState is the lifecycle state of a raised alert.
type AlertState string

const (
	AlertStateActive   AlertState = "active"
	AlertStateResolved AlertState = "resolved"
	AlertStateSilenced AlertState = "silenced"
)

// Alert is a raised instance of a rule.
type Alert struct {
	ID           string     `json:"id" yaml:"id"`
	RuleID       string     `json:"rule_id" yaml:"rule_id"`
	State        AlertState `json:"state" yaml:"state"`
	Value        float64    `json:"value" yaml:"value"`
	TriggeredAt  time.Time  `json:"triggered_at" yaml:"triggered_at"`
	ResolvedAt   time.Time  `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
	SilenceUntil time.Time  `json:"silence_until,omitempty" yaml:"silence_until,omitempty"`
}

// ============================================================================
// SCHEMAS
// ============================================================================

// FieldType is the closed type set the schema evaluator understands.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeObject   FieldType = "object"
	TypeArray    FieldType = "array"
	TypeText     FieldType = "text"
	TypeAudio    FieldType = "audio"
	TypeImage    FieldType = "image"
	TypeVideo    FieldType = "video"
	TypeDocument FieldType = "document"
	TypeFile     FieldType = "file"
	TypeBinary   FieldType = "binary"
	TypeJSON     FieldType = "json"
	TypeXML      FieldType = "xml"
	TypeCSV      FieldType = "csv"
	TypePDF      FieldType = "pdf"
	TypeAny      FieldType = "any"
)

// SchemaField describes one field of an object schema.
type SchemaField struct {
	Type     FieldType    `json:"type" yaml:"type"`
	Required bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Items    *SchemaField `json:"items,omitempty" yaml:"items,omitempty"`
	Fields   map[string]*SchemaField `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Schema is the narrow input/output contract of an agent.
type Schema struct {
	Fields map[string]*SchemaField `json:"fields" yaml:"fields"`
}

// ============================================================================
// SECRETS
// ============================================================================

// EnvironmentSecret stores an encrypted value; plaintext never leaves the core.
type EnvironmentSecret struct {
	ID        string    `json:"id" yaml:"id"`
	OwnerID   string    `json:"owner_id" yaml:"owner_id"`
	Name      string    `json:"name" yaml:"name"`
	Value     string    `json:"-" yaml:"-"` // base64(nonce || ciphertext)
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
