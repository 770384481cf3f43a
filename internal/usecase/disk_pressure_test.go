package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"playerhub/internal/services/cache/loader"
	"playerhub/internal/storage/disk"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCacheIndex struct {
	mu        sync.Mutex
	cached    []disk.CachedSource
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeCacheIndex) Cached() ([]disk.CachedSource, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.cached, nil
}

func (f *fakeCacheIndex) Delete(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[source]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, source)
	return nil
}

type fakeLiveSources struct {
	sources []string
	err     error
}

func (f fakeLiveSources) Sources(ctx context.Context) ([]loader.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]loader.Stats, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, loader.Stats{Source: s})
	}
	return out, nil
}

// freeSequence returns successive free-space readings, repeating the last.
func freeSequence(values ...int64) func(string) (int64, error) {
	var mu sync.Mutex
	i := 0
	return func(string) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	}
}

func cachedSources(names ...string) []disk.CachedSource {
	out := make([]disk.CachedSource, len(names))
	base := time.Unix(1700000000, 0)
	for i, n := range names {
		out[i] = disk.CachedSource{Source: n, ResidentBytes: 100, UpdatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestDiskPressureNoPressure(t *testing.T) {
	cache := &fakeCacheIndex{cached: cachedSources("a", "b")}
	dp := DiskPressure{
		Cache:        cache,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		FreeBytes:    freeSequence(500),
	}

	if n := dp.Check(context.Background()); n != 0 {
		t.Fatalf("pruned = %d, want 0", n)
	}
	if len(cache.deleted) != 0 {
		t.Fatalf("deleted = %v", cache.deleted)
	}
}

func TestDiskPressurePrunesOldestUntilResume(t *testing.T) {
	cache := &fakeCacheIndex{cached: cachedSources("old", "mid", "new")}
	dp := DiskPressure{
		Cache:        cache,
		Live:         fakeLiveSources{},
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		ResumeBytes:  300,
		// Initial check, then one reading per deletion.
		FreeBytes: freeSequence(50, 200, 350),
	}

	if n := dp.Check(context.Background()); n != 2 {
		t.Fatalf("pruned = %d, want 2", n)
	}
	if want := []string{"old", "mid"}; !reflect.DeepEqual(cache.deleted, want) {
		t.Fatalf("deleted = %v, want %v", cache.deleted, want)
	}
}

func TestDiskPressureSkipsLiveSources(t *testing.T) {
	cache := &fakeCacheIndex{cached: cachedSources("playing", "idle", "next")}
	dp := DiskPressure{
		Cache:        cache,
		Live:         fakeLiveSources{sources: []string{"playing", "next"}},
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		FreeBytes:    freeSequence(10),
	}

	dp.Check(context.Background())

	if want := []string{"idle"}; !reflect.DeepEqual(cache.deleted, want) {
		t.Fatalf("deleted = %v, want %v", cache.deleted, want)
	}
}

func TestDiskPressureDefaultResumeIsDoubleThreshold(t *testing.T) {
	cache := &fakeCacheIndex{cached: cachedSources("a", "b", "c")}
	dp := DiskPressure{
		Cache:        cache,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		// 150 clears the threshold but not 2x; 200 does.
		FreeBytes: freeSequence(50, 150, 200),
	}

	if n := dp.Check(context.Background()); n != 2 {
		t.Fatalf("pruned = %d, want 2", n)
	}
}

func TestDiskPressureDeleteErrorContinues(t *testing.T) {
	cache := &fakeCacheIndex{
		cached:    cachedSources("locked", "free"),
		deleteErr: map[string]error{"locked": errors.New("busy")},
	}
	dp := DiskPressure{
		Cache:        cache,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		FreeBytes:    freeSequence(10),
	}

	if n := dp.Check(context.Background()); n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if want := []string{"free"}; !reflect.DeepEqual(cache.deleted, want) {
		t.Fatalf("deleted = %v", cache.deleted)
	}
}

func TestDiskPressureErrorsPruneNothing(t *testing.T) {
	tests := []struct {
		name  string
		cache *fakeCacheIndex
		live  LiveSources
		free  func(string) (int64, error)
	}{
		{
			name:  "free space unknown",
			cache: &fakeCacheIndex{cached: cachedSources("a")},
			free:  func(string) (int64, error) { return 0, errors.New("statfs failed") },
		},
		{
			name:  "live sources unknown",
			cache: &fakeCacheIndex{cached: cachedSources("a")},
			live:  fakeLiveSources{err: errors.New("closed")},
			free:  freeSequence(10),
		},
		{
			name:  "index unreadable",
			cache: &fakeCacheIndex{listErr: errors.New("bolt closed")},
			free:  freeSequence(10),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dp := DiskPressure{
				Cache:        tc.cache,
				Live:         tc.live,
				Logger:       discardLogger(),
				MinFreeBytes: 100,
				FreeBytes:    tc.free,
			}
			if n := dp.Check(context.Background()); n != 0 {
				t.Fatalf("pruned = %d, want 0", n)
			}
			if len(tc.cache.deleted) != 0 {
				t.Fatalf("deleted = %v", tc.cache.deleted)
			}
		})
	}
}

func TestDiskPressureRunStopsOnCancel(t *testing.T) {
	cache := &fakeCacheIndex{cached: cachedSources("a")}
	dp := DiskPressure{
		Cache:        cache,
		Logger:       discardLogger(),
		MinFreeBytes: 100,
		Interval:     5 * time.Millisecond,
		FreeBytes:    freeSequence(10, 1000),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dp.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		cache.mu.Lock()
		n := len(cache.deleted)
		cache.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Run never pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
