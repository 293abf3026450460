package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.GetLogger().Debug("response encoding failed", "error", err)
		}
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := types.ErrInternal

	var typed *types.Error
	if errors.As(err, &typed) {
		kind = typed.Kind
		switch typed.Kind {
		case types.ErrBadInput:
			status = http.StatusBadRequest
		case types.ErrNotFound:
			status = http.StatusNotFound
		case types.ErrForbidden:
			status = http.StatusForbidden
		case types.ErrConflict, types.ErrInUse:
			status = http.StatusConflict
		case types.ErrUnavailable:
			status = http.StatusServiceUnavailable
		case types.ErrTimeout:
			status = http.StatusGatewayTimeout
		case types.ErrOverloaded:
			status = http.StatusTooManyRequests
		case types.ErrExternal:
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.WrapError(types.ErrBadInput, err, "malformed request body")
	}
	return nil
}
