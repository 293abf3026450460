package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentmesh/agentmesh/pkg/auth"
	"github.com/agentmesh/agentmesh/pkg/types"
)

func (s *Server) handleWorkflowCreate(w http.ResponseWriter, r *http.Request) {
	var wf types.Workflow
	if err := decodeBody(r, &wf); err != nil {
		writeError(w, err)
		return
	}
	if claims, ok := auth.FromContext(r.Context()); ok && wf.OwnerID == "" {
		wf.OwnerID = claims.Subject
	}
	created, err := s.deps.Workflows.Create(&wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Workflows.List(r.URL.Query().Get("owner")))
}

func (s *Server) handleWorkflowGet(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Workflows.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Workflows.Delete(chi.URLParam(r, "id"), callerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleWorkflowActivate(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Workflows.Activate(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Input map[string]any `json:"input"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	caller := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		caller = claims.Subject
	}
	exec, err := s.deps.Engine.Execute(r.Context(), chi.URLParam(r, "id"), body.Input, caller)
	if err != nil && exec == nil {
		writeError(w, err)
		return
	}
	// A failed execution still returns its record; the status carries the
	// outcome.
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.List(chi.URLParam(r, "id")))
}

func (s *Server) handleExecutionGet(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Stop(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
