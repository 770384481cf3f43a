package domain

// PlaybackStatus is the user-facing state of a player instance.
type PlaybackStatus string

const (
	StatusInitial   PlaybackStatus = "initial"   // no item, or item just assigned
	StatusPrepared  PlaybackStatus = "prepared"  // item loaded, not yet played
	StatusBuffering PlaybackStatus = "buffering" // wants to play, engine cannot keep up
	StatusPlaying   PlaybackStatus = "playing"
	StatusPaused    PlaybackStatus = "paused"
	StatusEnded     PlaybackStatus = "ended"
	StatusFailed    PlaybackStatus = "failed"
)

// ItemStatus mirrors the engine's readiness report for the current item.
type ItemStatus string

const (
	ItemUnknown     ItemStatus = "unknown"
	ItemReadyToPlay ItemStatus = "ready"
	ItemFailed      ItemStatus = "failed"
)

// LifecycleEvent is an application lifecycle notification forwarded to the
// player.
type LifecycleEvent string

const (
	LifecycleBackground   LifecycleEvent = "background"
	LifecycleForeground   LifecycleEvent = "foreground"
	LifecycleResignActive LifecycleEvent = "resign_active"
	LifecycleBecomeActive LifecycleEvent = "become_active"
)

// TimeRange is a span of media time in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
