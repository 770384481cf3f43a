package apihttp

import (
	"encoding/json"
	"log/slog"

	"playerhub/internal/domain"
	"playerhub/internal/services/session/player"
)

type engineCommand struct {
	Action   string  `json:"action"`
	Position float64 `json:"position,omitempty"`
	URL      string  `json:"url,omitempty"`
}

type statusMessage struct {
	Status domain.PlaybackStatus `json:"status"`
	Error  string                `json:"error,omitempty"`
}

type progressMessage struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// RemoteEngine drives a playback engine running in a WebSocket client.
// Commands go out as "command" messages; the client reports back with
// "signal" messages.
type RemoteEngine struct {
	hub *wsHub
}

func (e *RemoteEngine) Play() {
	e.hub.Broadcast("command", engineCommand{Action: "play"})
}

func (e *RemoteEngine) Pause() {
	e.hub.Broadcast("command", engineCommand{Action: "pause"})
}

func (e *RemoteEngine) Seek(seconds float64) {
	e.hub.Broadcast("command", engineCommand{Action: "seek", Position: seconds})
}

func (e *RemoteEngine) ReplaceItem(url string) {
	e.hub.Broadcast("command", engineCommand{Action: "replace", URL: url})
}

// handleClientMessage feeds engine reports and lifecycle events from a
// client into the player.
func (s *Server) handleClientMessage(msg wsInbound) {
	if s.player == nil {
		return
	}
	var err error
	switch msg.Type {
	case "signal":
		var sig player.Signal
		if err = json.Unmarshal(msg.Data, &sig); err == nil {
			err = s.player.Signal(sig)
		}
	case "lifecycle":
		var body lifecycleRequest
		if err = json.Unmarshal(msg.Data, &body); err == nil {
			err = s.player.Lifecycle(body.Event)
		}
	default:
		s.logger.Debug("ws message type unknown", slog.String("type", msg.Type))
		return
	}
	if err != nil {
		s.logger.Warn("ws message rejected",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
	}
}
