package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentmesh/agentmesh/pkg/auth"
	"github.com/agentmesh/agentmesh/pkg/integration"
	"github.com/agentmesh/agentmesh/pkg/types"
)

func (s *Server) handleSkillCreate(w http.ResponseWriter, r *http.Request) {
	var skill types.Skill
	if err := decodeBody(r, &skill); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.deps.Master.CreateSkill(&skill)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSkillList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Master.ListSkills())
}

func (s *Server) handleSkillDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Master.DeleteSkill(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleToolCreate(w http.ResponseWriter, r *http.Request) {
	var tool types.Tool
	if err := decodeBody(r, &tool); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.deps.Master.CreateTool(&tool)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleToolList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Master.ListTools())
}

func (s *Server) handleToolDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Master.DeleteTool(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleConstraintCreate(w http.ResponseWriter, r *http.Request) {
	var constraint types.Constraint
	if err := decodeBody(r, &constraint); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.deps.Master.CreateConstraint(&constraint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleConstraintList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Master.ListConstraints())
}

func (s *Server) handleConstraintDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Master.DeleteConstraint(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var tpl types.Template
	if err := decodeBody(r, &tpl); err != nil {
		writeError(w, err)
		return
	}
	if claims, ok := auth.FromContext(r.Context()); ok && tpl.OwnerID == "" {
		tpl.OwnerID = claims.Subject
	}
	created, err := s.deps.Templates.Create(&tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTemplateList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Templates.List())
}

func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.deps.Templates.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Templates.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTemplateInstantiate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string         `json:"name"`
		Model  string         `json:"model"`
		Params map[string]any `json:"params"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	owner := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		owner = claims.Subject
	}
	agent, err := s.deps.Facade.InstantiateAgent(integration.InstantiateSpec{
		TemplateID: chi.URLParam(r, "id"),
		Name:       body.Name,
		OwnerID:    owner,
		Model:      body.Model,
		Params:     body.Params,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleSecretList(w http.ResponseWriter, r *http.Request) {
	owner := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		owner = claims.Subject
	}
	writeJSON(w, http.StatusOK, s.deps.Secrets.Names(owner))
}

func (s *Server) handleSecretSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	owner := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		owner = claims.Subject
	}
	secret, err := s.deps.Secrets.Set(owner, chi.URLParam(r, "name"), body.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secret)
}

func (s *Server) handleSecretDelete(w http.ResponseWriter, r *http.Request) {
	owner := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		owner = claims.Subject
	}
	if err := s.deps.Secrets.Delete(owner, chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
