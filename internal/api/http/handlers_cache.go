package apihttp

import (
	"net/http"
	"strings"
)

type teardownResponse struct {
	Source   string `json:"source"`
	TornDown bool   `json:"tornDown"`
}

func (s *Server) handleCacheSources(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "cache proxy not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		stats, err := s.proxy.Sources(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case http.MethodDelete:
		src := strings.TrimSpace(r.URL.Query().Get("src"))
		if src == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "src is required")
			return
		}
		writeJSON(w, http.StatusOK, teardownResponse{Source: src, TornDown: s.proxy.TeardownSource(src)})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
