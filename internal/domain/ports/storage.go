package ports

import "playerhub/internal/domain"

// RangeStore persists downloaded byte spans of one source.
type RangeStore interface {
	// Contains reports whether [off, off+length) is fully resident.
	Contains(off, length int64) bool
	// Read returns resident bytes; domain.ErrNotResident if any byte of the
	// range is missing.
	Read(off, length int64) ([]byte, error)
	Write(off int64, p []byte) error
	// Metadata returns the stored content info, if any was recorded.
	Metadata() (domain.ContentInfo, bool)
	// SetMetadata records content info. The first write wins for the
	// lifetime of the store.
	SetMetadata(info domain.ContentInfo)
	Resident() []domain.Range
	Close() error
}

// StoreProvider hands out the range store for a source. Repeated calls for
// the same source return a store backed by the same data.
type StoreProvider interface {
	Open(source string) (RangeStore, error)
	Close() error
}
