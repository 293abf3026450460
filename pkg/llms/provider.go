// Package llms adapts model providers behind a single interface. Templated
// agents are dispatched through a Provider; external agents never touch one.
package llms

import (
	"context"
	"encoding/json"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// Request is one completion call on behalf of an agent.
type Request struct {
	Model  string
	System string
	Input  map[string]any
}

// Response carries the provider output plus usage accounting.
type Response struct {
	Output map[string]any
	Usage  *types.LLMUsage
}

// Provider is the pluggable model back-end.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// userMessage flattens the input bag into the provider prompt. A bare
// "message" key passes through; anything else is sent as JSON.
func userMessage(input map[string]any) string {
	if msg, ok := input["message"].(string); ok && len(input) == 1 {
		return msg
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(raw)
}
