package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentmesh/agentmesh/pkg/integration"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/types"
)

func (s *Server) handleAlertList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Alerts.Alerts())
}

func (s *Server) handleAlertSilence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DurationMS int64 `json:"duration_ms"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DurationMS <= 0 {
		writeError(w, types.NewError(types.ErrBadInput, "duration_ms must be positive"))
		return
	}
	until := time.Now().Add(time.Duration(body.DurationMS) * time.Millisecond)
	if !s.deps.Alerts.Silence(chi.URLParam(r, "id"), until) {
		writeError(w, types.NewError(types.ErrNotFound, "alert %s not found", chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"silenced_until": until.Format(time.RFC3339)})
}

func (s *Server) handleAlertRuleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Alerts.Rules())
}

func (s *Server) handleAlertRuleCreate(w http.ResponseWriter, r *http.Request) {
	var rule types.AlertRule
	if err := decodeBody(r, &rule); err != nil {
		writeError(w, err)
		return
	}
	if rule.MetricName == "" {
		writeError(w, types.NewError(types.ErrBadInput, "metric_name is required"))
		return
	}
	s.deps.Alerts.AddRule(rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleAlertRuleDelete(w http.ResponseWriter, r *http.Request) {
	s.deps.Alerts.RemoveRule(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTraceGet(w http.ResponseWriter, r *http.Request) {
	trace, ok := s.deps.Recorder.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, types.NewError(types.ErrNotFound, "trace %s not found", chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleSampleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := metrics.Filter{
		OwnerID: q.Get("owner"),
		Name:    q.Get("name"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, types.NewError(types.ErrBadInput, "since must be RFC3339"))
			return
		}
		filter.Since = t
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	writeJSON(w, http.StatusOK, s.deps.Metrics.Query(filter))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	data, err := s.deps.Facade.Export(r.URL.Query().Get("owner"), format)
	if err != nil {
		writeError(w, err)
		return
	}
	if format == integration.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/yaml")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeError(w, types.WrapError(types.ErrBadInput, err, "unreadable snapshot body"))
		return
	}
	report, err := s.deps.Facade.Import(data, r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBatchAgents(w http.ResponseWriter, r *http.Request) {
	var agents []*types.Agent
	if err := decodeBody(r, &agents); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Facade.BatchCreateAgents(agents))
}

func (s *Server) handleBatchWorkflows(w http.ResponseWriter, r *http.Request) {
	var workflows []*types.Workflow
	if err := decodeBody(r, &workflows); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Facade.BatchCreateWorkflows(workflows))
}
