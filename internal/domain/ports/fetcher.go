package ports

import (
	"context"

	"playerhub/internal/domain"
)

type FetchEventKind int

const (
	FetchResponse FetchEventKind = iota
	FetchData
	FetchCompleted
	FetchFailed
)

var fetchEventKindNames = [...]string{"response", "data", "completed", "failed"}

func (k FetchEventKind) String() string {
	if int(k) < len(fetchEventKindNames) {
		return fetchEventKindNames[k]
	}
	return "unknown"
}

// FetchEvent is one step of a fetch. A handle emits exactly one
// FetchResponse, then FetchData events with gapless increasing offsets,
// then one terminal FetchCompleted or FetchFailed.
type FetchEvent struct {
	Kind   FetchEventKind
	Info   domain.ContentInfo // FetchResponse
	Offset int64              // FetchResponse: actual start; FetchData: chunk start
	Data   []byte             // FetchData
	Err    error              // FetchFailed
}

type FetchHandle interface {
	Events() <-chan FetchEvent
	// Offset is the offset the fetch was opened at.
	Offset() int64
	// Cancel stops delivery. No event is emitted after Cancel returns.
	// Calling it more than once has no effect.
	Cancel()
}

// RangeFetcher opens resumable reads of a remote source.
type RangeFetcher interface {
	Open(ctx context.Context, source string, offset int64) (FetchHandle, error)
}
