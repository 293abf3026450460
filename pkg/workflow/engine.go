// Package workflow executes workflow definitions against an input bag.
// Every step is delegated to the dispatcher; the engine only sequences,
// fans out, and gates steps, and keeps the execution record current so an
// observer can watch progress mid-run.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/dispatch"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// Invoker dispatches one agent invocation. *dispatch.Dispatcher satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Engine runs workflows and tracks their executions.
type Engine struct {
	clk       clock.Clock
	workflows *registry.WorkflowStore
	invoker   Invoker

	mu         sync.RWMutex
	executions map[string]*types.Execution
	cancels    map[string]context.CancelFunc
}

// New builds an engine over the given definition store and invoker.
func New(clk clock.Clock, workflows *registry.WorkflowStore, invoker Invoker) *Engine {
	return &Engine{
		clk:        clk,
		workflows:  workflows,
		invoker:    invoker,
		executions: make(map[string]*types.Execution),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Execute runs the workflow to completion and returns its execution record.
// The record is registered before the first step runs, so Get observes
// progress while Execute is still blocking.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any, callerID string) (*types.Execution, error) {
	wf, err := e.workflows.Get(workflowID)
	if err != nil {
		return nil, err
	}
	// Activation is the validation gate; drafts and terminal workflows do
	// not run.
	if wf.Status != types.WorkflowStatusActive {
		return nil, types.NewError(types.ErrUnavailable,
			"workflow %s is %s, not active", workflowID, wf.Status)
	}

	exec := &types.Execution{
		ID:         clock.NewID(),
		WorkflowID: wf.ID,
		Input:      input,
		Steps:      make([]types.StepExecution, len(wf.Steps)),
		Outputs:    make(map[string]map[string]any),
		Status:     types.ExecutionStatusRunning,
		StartedAt:  e.clk.Now(),
	}
	for i, step := range wf.Steps {
		exec.Steps[i] = types.StepExecution{
			AgentID: step.AgentID,
			Status:  types.StepStatusPending,
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.cancels[exec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, exec.ID)
		e.mu.Unlock()
	}()

	var runErr error
	switch wf.Kind {
	case types.WorkflowKindSequential:
		runErr = e.runSequential(ctx, wf, exec, callerID, false)
	case types.WorkflowKindConditional:
		runErr = e.runSequential(ctx, wf, exec, callerID, true)
	case types.WorkflowKindParallel:
		runErr = e.runParallel(ctx, wf, exec, callerID)
	default:
		runErr = types.NewError(types.ErrInternal, "workflow %s has unknown kind %q", wf.ID, wf.Kind)
	}

	e.mu.Lock()
	exec.CompletedAt = e.clk.Now()
	switch {
	case runErr == nil:
		exec.Status = types.ExecutionStatusCompleted
	case errors.Is(runErr, context.Canceled) || exec.Status == types.ExecutionStatusCancelled:
		exec.Status = types.ExecutionStatusCancelled
		exec.Error = "cancelled"
	default:
		exec.Status = types.ExecutionStatusFailed
		exec.Error = runErr.Error()
	}
	out := cloneExecution(exec)
	e.mu.Unlock()

	if runErr != nil {
		logger.GetLogger().Warn("workflow execution ended abnormally",
			"workflow", wf.ID, "execution", exec.ID, "status", out.Status, "error", runErr)
		return out, runErr
	}
	return out, nil
}

// Stop cancels a running execution. In-flight step dispatches observe the
// cancellation through their contexts.
func (e *Engine) Stop(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return types.NewError(types.ErrNotFound, "execution %s not found", executionID)
	}
	if exec.Status != types.ExecutionStatusRunning {
		return types.NewError(types.ErrConflict,
			"execution %s is %s, not running", executionID, exec.Status)
	}
	exec.Status = types.ExecutionStatusCancelled
	if cancel, ok := e.cancels[executionID]; ok {
		cancel()
	}
	return nil
}

// Get returns a copy of an execution record.
func (e *Engine) Get(executionID string) (*types.Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "execution %s not found", executionID)
	}
	return cloneExecution(exec), nil
}

// List returns executions, optionally filtered by workflow.
func (e *Engine) List(workflowID string) []*types.Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*types.Execution
	for _, exec := range e.executions {
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		out = append(out, cloneExecution(exec))
	}
	return out
}

// runSequential threads the bag through the steps in order. With gated set,
// each step's condition is evaluated against the current bag first.
func (e *Engine) runSequential(ctx context.Context, wf *types.Workflow, exec *types.Execution, callerID string, gated bool) error {
	bag := exec.Input
	for i, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if gated && !evalCondition(step.Condition, bag) {
			e.setStep(exec, i, types.StepStatusSkipped, "")
			continue
		}

		e.startStep(exec, i)
		result, err := e.invoker.Invoke(ctx, dispatch.Request{
			AgentID:  step.AgentID,
			Input:    MapInput(bag, step.InputMapping),
			CallerID: callerID,
		})
		if err != nil {
			e.setStep(exec, i, types.StepStatusFailed, err.Error())
			return fmt.Errorf("step %d (%s): %w", i, step.AgentID, err)
		}

		e.mu.Lock()
		exec.Outputs[step.AgentID] = result.Output
		e.mu.Unlock()
		e.setStep(exec, i, types.StepStatusCompleted, "")
		bag = result.Output
	}
	return nil
}

// runParallel maps each step over the initial input concurrently. The first
// failure cancels the rest.
func (e *Engine) runParallel(ctx context.Context, wf *types.Workflow, exec *types.Execution, callerID string) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, step := range wf.Steps {
		g.Go(func() error {
			e.startStep(exec, i)
			result, err := e.invoker.Invoke(ctx, dispatch.Request{
				AgentID:  step.AgentID,
				Input:    MapInput(exec.Input, step.InputMapping),
				CallerID: callerID,
			})
			if err != nil {
				e.setStep(exec, i, types.StepStatusFailed, err.Error())
				return fmt.Errorf("step %d (%s): %w", i, step.AgentID, err)
			}
			e.mu.Lock()
			exec.Outputs[step.AgentID] = result.Output
			e.mu.Unlock()
			e.setStep(exec, i, types.StepStatusCompleted, "")
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) startStep(exec *types.Execution, i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec.Steps[i].Status = types.StepStatusRunning
	exec.Steps[i].StartedAt = e.clk.Now()
}

func (e *Engine) setStep(exec *types.Execution, i int, status types.StepStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec.Steps[i].Status = status
	exec.Steps[i].Error = errMsg
	if status != types.StepStatusSkipped {
		exec.Steps[i].CompletedAt = e.clk.Now()
	}
}

// MapInput projects the source bag through an input mapping. An empty mapping
// passes the bag through unchanged; a missing path yields nil, not an error.
func MapInput(bag map[string]any, mapping map[string]string) map[string]any {
	if len(mapping) == 0 {
		out := make(map[string]any, len(bag))
		for k, v := range bag {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(mapping))
	for dest, path := range mapping {
		out[dest] = lookupPath(bag, path)
	}
	return out
}

// lookupPath resolves a dotted path against nested string-keyed maps.
func lookupPath(bag map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = bag
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// evalCondition applies a step condition to the bag. A nil condition passes.
func evalCondition(cond *types.StepCondition, bag map[string]any) bool {
	if cond == nil {
		return true
	}
	actual := lookupPath(bag, cond.Field)

	switch cond.Operator {
	case types.ConditionEquals:
		return equalValues(actual, cond.Value)
	case types.ConditionNotEquals:
		return !equalValues(actual, cond.Value)
	case types.ConditionContains:
		return containsValue(actual, cond.Value)
	case types.ConditionGreaterThan, types.ConditionLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false
		}
		if cond.Operator == types.ConditionGreaterThan {
			return a > b
		}
		return a < b
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func cloneExecution(exec *types.Execution) *types.Execution {
	c := *exec
	c.Steps = append([]types.StepExecution(nil), exec.Steps...)
	c.Outputs = make(map[string]map[string]any, len(exec.Outputs))
	for k, v := range exec.Outputs {
		c.Outputs[k] = v
	}
	return &c
}
