package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	endpoint := ""
	if s.broker != nil {
		endpoint = s.broker.Endpoint()
	}
	if endpoint == "" {
		respondJSON(w, http.StatusServiceUnavailable, HealthzResponse{
			Status:        "starting",
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Endpoint:      endpoint,
		ActionsLoaded: len(s.actions.All()),
	})
}

// handleActions handles GET /actions.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	all := s.actions.All()
	resp := ActionsResponse{Actions: make([]ActionInfo, 0, len(all))}
	for _, a := range all {
		info := ActionInfo{Name: a.Name, Builtin: a.Plugin == nil}
		if p := a.Plugin; p != nil {
			info.Plugin = p.Name
			info.Version = p.Version
			info.Description = p.Description
			info.Digest = p.Digest
		}
		resp.Actions = append(resp.Actions, info)
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
