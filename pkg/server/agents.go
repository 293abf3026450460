package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentmesh/agentmesh/pkg/auth"
	"github.com/agentmesh/agentmesh/pkg/capability"
	"github.com/agentmesh/agentmesh/pkg/dispatch"
	"github.com/agentmesh/agentmesh/pkg/registry"
	"github.com/agentmesh/agentmesh/pkg/types"
)

func (s *Server) handleAgentCreate(w http.ResponseWriter, r *http.Request) {
	var agent types.Agent
	if err := decodeBody(r, &agent); err != nil {
		writeError(w, err)
		return
	}
	if claims, ok := auth.FromContext(r.Context()); ok && agent.OwnerID == "" {
		agent.OwnerID = claims.Subject
	}
	created, err := s.deps.Agents.Create(&agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Agents.List(r.URL.Query().Get("owner")))
}

func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Agents.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type agentUpdateBody struct {
	Config       map[string]string `json:"config"`
	SystemPrompt *string           `json:"system_prompt"`
	Model        *string           `json:"model"`
	ToolRefs     []string          `json:"tool_refs"`
	SkillRefs    []string          `json:"skill_refs"`
	Capabilities []string          `json:"capabilities"`
	Changelog    string            `json:"changelog"`
}

func (s *Server) handleAgentUpdate(w http.ResponseWriter, r *http.Request) {
	var body agentUpdateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	agent, warnings, err := s.deps.Agents.Update(chi.URLParam(r, "id"), callerID(r), registry.UpdateSpec{
		Config:       body.Config,
		SystemPrompt: body.SystemPrompt,
		Model:        body.Model,
		ToolRefs:     body.ToolRefs,
		SkillRefs:    body.SkillRefs,
		Capabilities: body.Capabilities,
		Changelog:    body.Changelog,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    agent,
		"warnings": warnings,
	})
}

func (s *Server) handleAgentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Agents.Delete(chi.URLParam(r, "id"), callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAgentVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.deps.Agents.Versions(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleAgentRevert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version string `json:"version"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.deps.Agents.Revert(chi.URLParam(r, "id"), callerID(r), body.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentDeploy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Orchestrator.Deploy(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.deps.Agents.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Orchestrator.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAgentScale(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Replicas int `json:"replicas"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Orchestrator.Scale(r.Context(), id, body.Replicas); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"replicas": s.deps.Orchestrator.Replicas(id)})
}

type invokeBody struct {
	Input     map[string]any `json:"input"`
	SessionID string         `json:"session_id"`
	TraceID   string         `json:"trace_id"`
}

func (s *Server) handleAgentInvoke(w http.ResponseWriter, r *http.Request) {
	var body invokeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	caller := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		caller = claims.Subject
	}
	result, err := s.deps.Dispatcher.Invoke(r.Context(), dispatch.Request{
		AgentID:   chi.URLParam(r, "id"),
		Input:     body.Input,
		TraceID:   body.TraceID,
		SessionID: body.SessionID,
		CallerID:  caller,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAgentCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := s.deps.Capability.Discover(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	merged := capability.Merge(caps)
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(merged) {
		merged = merged[:limit]
	}
	writeJSON(w, http.StatusOK, merged)
}
