package apihttp

import (
	"errors"
	"net/http"
	"strings"

	"playerhub/internal/domain"
)

const defaultHistoryLimit = 20

// handleWatchHistory lists recent positions, or returns one with ?src=.
func (s *Server) handleWatchHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.watchHistory == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "watch history not configured")
		return
	}

	if src := strings.TrimSpace(r.URL.Query().Get("src")); src != "" {
		pos, err := s.watchHistory.Get(r.Context(), src)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "no watch position found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to get watch position")
			return
		}
		writeJSON(w, http.StatusOK, pos)
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	positions, err := s.watchHistory.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list watch history")
		return
	}

	writeJSON(w, http.StatusOK, positions)
}
