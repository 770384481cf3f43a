package ports

// PlaybackEngine receives the commands the player controller issues.
// Implementations must not block; the controller calls them from its own
// event loop.
type PlaybackEngine interface {
	Play()
	Pause()
	Seek(seconds float64)
	// ReplaceItem swaps the current item. An empty url discards it.
	ReplaceItem(url string)
}
