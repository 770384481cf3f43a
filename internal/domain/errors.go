package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrUnsupportedSource = errors.New("unsupported source")

var (
	// ErrNotResident is returned by a range store when a read touches bytes
	// that are not cached. It never reaches a consumer; the loader fetches
	// instead.
	ErrNotResident = errors.New("range not resident")

	// ErrNetworkFailure marks a fetch that could not complete. It is
	// delivered to every read request that depended on the fetch.
	ErrNetworkFailure = errors.New("network failure")

	// ErrEngine marks a fault reported by the playback engine or its item.
	ErrEngine = errors.New("playback engine error")

	// ErrCancelled is the owner-initiated end of a read request. It is an
	// expected outcome and is not logged as a failure.
	ErrCancelled = errors.New("cancelled by owner")

	// ErrClosed is returned once a loader has been torn down.
	ErrClosed = errors.New("loader closed")
)
