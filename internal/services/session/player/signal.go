package player

import "playerhub/internal/domain"

// Signal is one report from the playback engine. Only the fields that are
// set changed; the rest keep their previous value.
type Signal struct {
	// Item, when set, names the URL the report is about. Reports for an
	// item other than the current one are dropped.
	Item string `json:"item,omitempty"`

	ItemStatus     domain.ItemStatus `json:"itemStatus,omitempty"`
	Error          string            `json:"error,omitempty"`
	LikelyToKeepUp *bool             `json:"likelyToKeepUp,omitempty"`
	BufferEmpty    *bool             `json:"bufferEmpty,omitempty"`
	BufferFull     *bool             `json:"bufferFull,omitempty"`
	Rate           *float64          `json:"rate,omitempty"`
	Position       *float64          `json:"position,omitempty"`
	Duration       *float64          `json:"duration,omitempty"`
	Loaded         *domain.TimeRange `json:"loaded,omitempty"`
}

// Observer receives UI-facing notifications. Calls are made from the
// controller's loop and must not block.
type Observer interface {
	StatusChanged(status domain.PlaybackStatus, err error)
	ProgressChanged(position, duration float64)
	BufferedChanged(r domain.TimeRange)
}

// Snapshot is the controller state reported to the API.
type Snapshot struct {
	Status     domain.PlaybackStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
	Source     string                `json:"source,omitempty"`
	ItemURL    string                `json:"itemUrl,omitempty"`
	Next       string                `json:"next,omitempty"`
	Position   float64               `json:"position"`
	Duration   float64               `json:"duration"`
	Buffered   domain.TimeRange      `json:"buffered"`
	Rate       float64               `json:"rate"`
	WantsPlay  bool                  `json:"wantsPlay"`
	Preloading bool                  `json:"preloading"`
}
