package apihttp

import (
	"math"
	"net/http"
	"strings"

	"playerhub/internal/domain"
	"playerhub/internal/services/session/player"
)

type replaceRequest struct {
	URL  string `json:"url"`
	Next string `json:"next"`
}

type seekRequest struct {
	Position *float64 `json:"position"`
}

type lifecycleRequest struct {
	Event domain.LifecycleEvent `json:"event"`
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "player not configured")
		return
	}

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/player/"), "/")
	if action == "status" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap, err := s.player.Snapshot(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var err error
	switch action {
	case "play":
		err = s.player.Play()
	case "pause":
		err = s.player.Pause()
	case "stop":
		err = s.player.Stop()
	case "seek":
		var body seekRequest
		if err := decodeJSON(r, &body); err != nil || body.Position == nil ||
			math.IsNaN(*body.Position) || math.IsInf(*body.Position, 0) || *body.Position < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "position must be a non-negative number")
			return
		}
		err = s.player.Seek(*body.Position)
	case "replace":
		var body replaceRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		if strings.TrimSpace(body.URL) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
			return
		}
		err = s.player.Replace(body.URL, body.Next)
	case "events":
		var sig player.Signal
		if err := decodeJSON(r, &sig); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		err = s.player.Signal(sig)
	case "lifecycle":
		var body lifecycleRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		switch body.Event {
		case domain.LifecycleBackground, domain.LifecycleForeground,
			domain.LifecycleResignActive, domain.LifecycleBecomeActive:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown lifecycle event")
			return
		}
		err = s.player.Lifecycle(body.Event)
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
