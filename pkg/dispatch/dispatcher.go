// Package dispatch is the per-invocation hot path: resolve, authorize,
// validate, route to the worker or in-proc model adapter, trace, and
// classify failures. The dispatcher holds no global lock.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/httpclient"
	"github.com/agentmesh/agentmesh/pkg/llms"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/schema"
	"github.com/agentmesh/agentmesh/pkg/trace"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// AuthorizeFunc is the external authorization policy. A nil policy permits
// owners only.
type AuthorizeFunc func(agent *types.Agent, callerID string) bool

// Request is one invocation.
type Request struct {
	AgentID   string
	Input     map[string]any
	TraceID   string
	SessionID string
	CallerID  string
}

// Result is a successful invocation outcome.
type Result struct {
	Output    map[string]any  `json:"output"`
	TraceID   string          `json:"trace_id"`
	ElapsedMS int64           `json:"execution_time_ms"`
	Usage     *types.LLMUsage `json:"llm_usage,omitempty"`
}

// Dispatcher routes invocations to workers and model providers.
type Dispatcher struct {
	clk       clock.Clock
	agents    *registry.AgentRegistry
	recorder  *trace.Recorder
	client    *httpclient.Client
	breakers  *httpclient.BreakerSet
	providers *registry.BaseRegistry[llms.Provider]
	authorize AuthorizeFunc
	timeout   time.Duration

	// Per-agent in-flight counters; above the cap requests fail fast.
	mu         sync.Mutex
	inflight   map[string]int
	defaultCap int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithAuthorize installs the authorization policy.
func WithAuthorize(fn AuthorizeFunc) Option {
	return func(dp *Dispatcher) { dp.authorize = fn }
}

// WithProvider registers a model provider for templated agents.
func WithProvider(p llms.Provider) Option {
	return func(dp *Dispatcher) { dp.providers.Put(p.Name(), p) }
}

// WithDefaultConcurrency sets the per-agent cap used when the agent's
// configuration does not override it.
func WithDefaultConcurrency(n int) Option {
	return func(dp *Dispatcher) { dp.defaultCap = n }
}

// New builds a dispatcher.
func New(clk clock.Clock, agents *registry.AgentRegistry, recorder *trace.Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clk:        clk,
		agents:     agents,
		recorder:   recorder,
		client:     httpclient.New(httpclient.WithMaxRetries(1)),
		breakers:   httpclient.NewBreakerSet(),
		providers:  registry.NewBaseRegistry[llms.Provider](),
		timeout:    30 * time.Second,
		inflight:   make(map[string]int),
		defaultCap: 16,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke runs the full invocation contract. Errors carry taxonomy kinds and
// terminate the trace; successful results carry trace id and elapsed time.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (*Result, error) {
	agent, err := d.agents.Get(req.AgentID)
	if err != nil {
		return nil, err
	}

	if !d.authorized(agent, req.CallerID) {
		return nil, types.NewError(types.ErrForbidden,
			"caller %s may not invoke agent %s", req.CallerID, agent.ID)
	}

	if agent.Status != types.AgentStatusActive {
		return nil, types.NewError(types.ErrUnavailable,
			"agent %s is %s, not active", agent.ID, agent.Status)
	}

	// Schema rejection happens before any external call or trace.
	if err := schema.Validate(agent.InputSchema, req.Input); err != nil {
		return nil, err
	}

	if !d.acquire(agent) {
		return nil, types.NewError(types.ErrOverloaded,
			"agent %s concurrency cap reached", agent.ID)
	}
	defer d.release(agent.ID)

	traceID := d.recorder.Start(req.TraceID, req.SessionID, agent.ID, req.CallerID, req.Input)
	started := d.clk.Now()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var output map[string]any
	var usage *types.LLMUsage
	switch agent.Kind {
	case types.AgentKindTemplated:
		output, usage, err = d.invokeTemplated(ctx, agent, req.Input)
	case types.AgentKindExternal:
		output, usage, err = d.invokeExternal(ctx, agent, req.Input, traceID)
	default:
		err = types.NewError(types.ErrInternal, "agent %s has unknown kind %q", agent.ID, agent.Kind)
	}

	if err != nil {
		classified := classify(err)
		d.recorder.Fail(traceID, classified.Error())
		d.agents.RecordInvocation(agent.ID, true)
		return nil, classified
	}

	d.recorder.End(traceID, output, usage)
	d.agents.RecordInvocation(agent.ID, false)

	return &Result{
		Output:    output,
		TraceID:   traceID,
		ElapsedMS: d.clk.Now().Sub(started).Milliseconds(),
		Usage:     usage,
	}, nil
}

func (d *Dispatcher) authorized(agent *types.Agent, callerID string) bool {
	if d.authorize != nil {
		return d.authorize(agent, callerID)
	}
	return callerID == "" || callerID == agent.OwnerID
}

func (d *Dispatcher) invokeTemplated(ctx context.Context, agent *types.Agent, input map[string]any) (map[string]any, *types.LLMUsage, error) {
	providerName := agent.Config["provider"]
	if providerName == "" {
		providerName = "anthropic"
	}
	provider, ok := d.providers.Get(providerName)
	if !ok {
		return nil, nil, types.NewError(types.ErrUnavailable,
			"no %s provider configured for agent %s", providerName, agent.ID)
	}

	resp, err := provider.Complete(ctx, llms.Request{
		Model:  agent.Model,
		System: agent.SystemPrompt,
		Input:  input,
	})
	if err != nil {
		return nil, nil, err
	}
	return resp.Output, resp.Usage, nil
}

type workerResponse struct {
	Output   map[string]any  `json:"output"`
	LLMUsage *types.LLMUsage `json:"llm_usage,omitempty"`
}

func (d *Dispatcher) invokeExternal(ctx context.Context, agent *types.Agent, input map[string]any, traceID string) (map[string]any, *types.LLMUsage, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, nil, types.WrapError(types.ErrBadInput, err, "unencodable input")
	}

	url := agent.Endpoint + "/invoke"
	resp, err := d.breakers.Do(agent.ID, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trace-Id", traceID)
		if agent.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+agent.AuthToken)
		}
		return d.client.Do(req)
	})
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, nil, types.NewError(types.ErrExternal,
			"worker returned HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var decoded workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, nil, types.WrapError(types.ErrExternal, err, "malformed worker response")
	}
	return decoded.Output, decoded.LLMUsage, nil
}

// acquire bumps the agent's in-flight counter unless the cap is reached.
func (d *Dispatcher) acquire(agent *types.Agent) bool {
	cap := d.defaultCap
	if raw, ok := agent.Config["max_concurrency"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cap = n
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[agent.ID] >= cap {
		return false
	}
	d.inflight[agent.ID]++
	return true
}

func (d *Dispatcher) release(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[agentID] > 0 {
		d.inflight[agentID]--
	}
}

// classify maps transport failures onto the error taxonomy. Errors already
// carrying a kind pass through.
func classify(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.WrapError(types.ErrTimeout, err, "invocation deadline exceeded")
	case errors.Is(err, context.Canceled):
		return types.WrapError(types.ErrTimeout, err, "invocation cancelled")
	case httpclient.IsOpen(err):
		return types.WrapError(types.ErrUnavailable, err, "agent circuit open")
	default:
		return types.WrapError(types.ErrExternal, err, "dispatch failed")
	}
}
