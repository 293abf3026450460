// Package orchestrator owns the physical lifecycle of templated agents:
// rendering the worker artifact, allocating a port, spawning the process,
// probing until healthy, and converging replica counts. No other component
// may touch worker processes.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/httpclient"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/template"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Options configure deployment behavior.
type Options struct {
	// WorkDir is the root under which per-agent working directories live.
	WorkDir string
	// WorkerCommand launches a worker; "{artifact}" expands to the rendered
	// artifact path. Empty means the artifact itself is executed.
	WorkerCommand []string
	// StartupDeadline bounds the probe loop after spawn.
	StartupDeadline time.Duration
	// DrainDeadline bounds graceful termination before force-kill.
	DrainDeadline time.Duration
	// ExternalDeadline bounds endpoint validation for external agents.
	ExternalDeadline time.Duration
}

func (o *Options) defaults() {
	if o.WorkDir == "" {
		o.WorkDir = filepath.Join(os.TempDir(), "agentmesh")
	}
	if o.StartupDeadline <= 0 {
		o.StartupDeadline = 60 * time.Second
	}
	if o.DrainDeadline <= 0 {
		o.DrainDeadline = 10 * time.Second
	}
	if o.ExternalDeadline <= 0 {
		o.ExternalDeadline = 10 * time.Second
	}
}

// Orchestrator converges desired worker state for every agent.
type Orchestrator struct {
	mu        sync.Mutex
	opts      Options
	clk       clock.Clock
	agents    *registry.AgentRegistry
	templates *registry.TemplateStore
	ports     *clock.PortAllocator
	client    *httpclient.Client
	workers   map[string][]*worker // agentID -> running workers
}

// New builds an orchestrator.
func New(opts Options, clk clock.Clock, agents *registry.AgentRegistry,
	templates *registry.TemplateStore, ports *clock.PortAllocator) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		opts:      opts,
		clk:       clk,
		agents:    agents,
		templates: templates,
		ports:     ports,
		client: httpclient.New(
			httpclient.WithMaxRetries(0),
			httpclient.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		),
		workers: make(map[string][]*worker),
	}
}

// Deploy brings one worker up for the agent and transitions it to active,
// or to error with the failure reason. Agent state is untouched when the
// port allocator is exhausted.
func (o *Orchestrator) Deploy(ctx context.Context, agentID string) error {
	agent, err := o.agents.Get(agentID)
	if err != nil {
		return err
	}

	switch agent.Kind {
	case types.AgentKindExternal:
		return o.deployExternal(ctx, agent)
	case types.AgentKindTemplated:
		return o.deployTemplated(ctx, agent)
	default:
		return types.NewError(types.ErrBadInput, "unknown agent kind %q", agent.Kind)
	}
}

func (o *Orchestrator) deployExternal(ctx context.Context, agent *types.Agent) error {
	if agent.Endpoint == "" || agent.ProbeURL == "" {
		return types.NewError(types.ErrBadInput,
			"external agent %s needs endpoint and probe URL", agent.ID)
	}

	probeCtx, cancel := context.WithTimeout(ctx, o.opts.ExternalDeadline)
	defer cancel()

	if err := o.probeOnce(probeCtx, agent.ProbeURL); err != nil {
		reason := fmt.Sprintf("endpoint validation failed: %v", err)
		_ = o.agents.SetStatus(agent.ID, types.AgentStatusError, "", "", reason)
		return types.WrapError(types.ErrUnavailable, err, "external agent %s is unreachable", agent.ID)
	}

	return o.agents.SetStatus(agent.ID, types.AgentStatusActive, agent.Endpoint, agent.ProbeURL, "")
}

func (o *Orchestrator) deployTemplated(ctx context.Context, agent *types.Agent) error {
	if agent.TemplateID == "" {
		return types.NewError(types.ErrBadInput, "templated agent %s has no template", agent.ID)
	}
	tmpl, err := o.templates.Get(agent.TemplateID)
	if err != nil {
		return err
	}

	// Render before any state mutation so template errors are cheap.
	params := make(map[string]any, len(agent.Config)+2)
	for k, v := range agent.Config {
		params[k] = v
	}
	params["system_prompt"] = agent.SystemPrompt
	params["model"] = agent.Model

	artifact, err := template.Render(tmpl, params)
	if err != nil {
		return err
	}

	// Port exhaustion must not mutate agent state.
	port, err := o.ports.Allocate()
	if err != nil {
		return err
	}

	if err := o.agents.SetStatus(agent.ID, types.AgentStatusDeploying, "", "", ""); err != nil {
		o.ports.Release(port)
		return err
	}

	workDir := filepath.Join(o.opts.WorkDir, agent.ID)
	artifactPath, err := materialize(workDir, artifact)
	if err != nil {
		o.ports.Release(port)
		reason := fmt.Sprintf("artifact write failed: %v", err)
		_ = o.agents.SetStatus(agent.ID, types.AgentStatusError, "", "", reason)
		return types.WrapError(types.ErrInternal, err, "failed to materialize artifact for %s", agent.ID)
	}

	w, err := o.spawn(agent, artifactPath, workDir, port)
	if err != nil {
		o.ports.Release(port)
		reason := fmt.Sprintf("spawn failed: %v", err)
		_ = o.agents.SetStatus(agent.ID, types.AgentStatusError, "", "", reason)
		return types.WrapError(types.ErrInternal, err, "failed to spawn worker for %s", agent.ID)
	}

	endpoint := fmt.Sprintf("http://localhost:%d", port)
	probeURL := endpoint + "/health"

	if err := o.probeUntilHealthy(ctx, probeURL, o.opts.StartupDeadline); err != nil {
		w.kill(o.opts.DrainDeadline)
		o.ports.Release(port)
		reason := fmt.Sprintf("startup probe timeout after %s: %v", o.opts.StartupDeadline, err)
		_ = o.agents.SetStatus(agent.ID, types.AgentStatusError, "", "", reason)
		return types.WrapError(types.ErrTimeout, err, "worker for %s never became healthy", agent.ID)
	}

	o.mu.Lock()
	o.workers[agent.ID] = append(o.workers[agent.ID], w)
	o.mu.Unlock()

	logger.GetLogger().Info("worker deployed", "agent", agent.ID, "port", port)
	return o.agents.SetStatus(agent.ID, types.AgentStatusActive, endpoint, probeURL, "")
}

// Stop terminates every worker of the agent and transitions it to stopped.
func (o *Orchestrator) Stop(_ context.Context, agentID string) error {
	agent, err := o.agents.Get(agentID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	workers := o.workers[agentID]
	delete(o.workers, agentID)
	o.mu.Unlock()

	for _, w := range workers {
		w.terminate(o.opts.DrainDeadline)
		o.ports.Release(w.port)
	}

	if agent.Kind == types.AgentKindExternal {
		// Nothing to kill; routing simply stops.
		return o.agents.SetStatus(agentID, types.AgentStatusStopped, "", "", "")
	}
	return o.agents.SetStatus(agentID, types.AgentStatusStopped, "", "", "")
}

// Restart is stop-then-deploy on the current configuration.
func (o *Orchestrator) Restart(ctx context.Context, agentID string) error {
	if err := o.Stop(ctx, agentID); err != nil {
		return err
	}
	return o.Deploy(ctx, agentID)
}

// Scale converges actual worker count toward n for a templated agent.
func (o *Orchestrator) Scale(ctx context.Context, agentID string, n int) error {
	if n < 0 {
		return types.NewError(types.ErrBadInput, "replica count cannot be negative")
	}
	agent, err := o.agents.Get(agentID)
	if err != nil {
		return err
	}
	if agent.Kind != types.AgentKindTemplated {
		return types.NewError(types.ErrBadInput, "only templated agents scale")
	}

	o.mu.Lock()
	current := len(o.workers[agentID])
	o.mu.Unlock()

	for current < n {
		if err := o.Deploy(ctx, agentID); err != nil {
			return err
		}
		current++
	}
	for current > n {
		o.mu.Lock()
		workers := o.workers[agentID]
		w := workers[len(workers)-1]
		o.workers[agentID] = workers[:len(workers)-1]
		o.mu.Unlock()

		w.terminate(o.opts.DrainDeadline)
		o.ports.Release(w.port)
		current--
	}

	if n == 0 {
		return o.agents.SetStatus(agentID, types.AgentStatusStopped, "", "", "")
	}
	return nil
}

// Replicas reports the running worker count for an agent.
func (o *Orchestrator) Replicas(agentID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.workers[agentID])
}

// Shutdown stops every worker. Called on process exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	all := o.workers
	o.workers = make(map[string][]*worker)
	o.mu.Unlock()

	for agentID, workers := range all {
		for _, w := range workers {
			w.terminate(o.opts.DrainDeadline)
			o.ports.Release(w.port)
		}
		logger.GetLogger().Info("workers stopped", "agent", agentID, "count", len(workers))
	}
}

// probeUntilHealthy polls the probe URL with bounded backoff until a 2xx
// arrives or the deadline passes.
func (o *Orchestrator) probeUntilHealthy(ctx context.Context, probeURL string, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	backoff := 250 * time.Millisecond
	var lastErr error
	for {
		if err := o.probeOnce(ctx, probeURL); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return fmt.Errorf("probe deadline exceeded: %w", lastErr)
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

func (o *Orchestrator) probeOnce(ctx context.Context, probeURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// materialize writes the rendered artifact under the agent workdir.
func materialize(workDir, artifact string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(workDir, "worker")
	if err := os.WriteFile(path, []byte(artifact), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// workerEnv assembles the environment handed to a spawned worker.
func workerEnv(agent *types.Agent, port int) []string {
	env := append(os.Environ(),
		"AGENT_ID="+agent.ID,
		"AGENT_MODEL="+agent.Model,
		"AGENT_PROMPT="+agent.SystemPrompt,
		fmt.Sprintf("AGENT_PORT=%d", port),
	)
	if len(agent.Config) > 0 {
		if raw, err := json.Marshal(agent.Config); err == nil {
			env = append(env, "AGENT_CONFIG="+string(raw))
		}
	}
	return env
}
