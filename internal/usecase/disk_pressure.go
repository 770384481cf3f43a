package usecase

import (
	"context"
	"log/slog"
	"time"

	"playerhub/internal/metrics"
	"playerhub/internal/services/cache/loader"
	"playerhub/internal/storage/disk"
)

// CacheIndex is the persistent range cache pruned under disk pressure.
type CacheIndex interface {
	Cached() ([]disk.CachedSource, error)
	Delete(source string) error
}

// LiveSources reports the sources currently owned by a loader.
type LiveSources interface {
	Sources(ctx context.Context) ([]loader.Stats, error)
}

// DiskPressure periodically checks free space on the cache directory. When
// it drops below MinFreeBytes, idle cached sources are deleted, least
// recently written first, until free space reaches ResumeBytes. Sources
// with a live loader are never pruned.
type DiskPressure struct {
	Cache        CacheIndex
	Live         LiveSources
	Logger       *slog.Logger
	DataDir      string
	MinFreeBytes int64 // threshold below which pruning starts
	ResumeBytes  int64 // pruning stops once free space reaches this
	Interval     time.Duration
	FreeBytes    func(path string) (int64, error)
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (dp DiskPressure) Run(ctx context.Context) {
	interval := dp.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dp.Check(ctx)
		}
	}
}

// Check runs one pressure check and returns how many sources were pruned.
func (dp DiskPressure) Check(ctx context.Context) int {
	logger := dp.Logger
	if logger == nil {
		logger = slog.Default()
	}
	freeBytes := dp.FreeBytes
	if freeBytes == nil {
		freeBytes = diskFreeBytes
	}
	resume := dp.ResumeBytes
	if resume <= dp.MinFreeBytes {
		resume = dp.MinFreeBytes * 2
	}

	free, err := freeBytes(dp.DataDir)
	if err != nil {
		logger.Warn("disk_pressure: failed to check disk space",
			slog.String("path", dp.DataDir),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if free >= dp.MinFreeBytes {
		return 0
	}

	live := make(map[string]struct{})
	if dp.Live != nil {
		stats, err := dp.Live.Sources(ctx)
		if err != nil {
			// Without the live set nothing is known to be safe to delete.
			logger.Warn("disk_pressure: list live sources failed",
				slog.String("error", err.Error()),
			)
			return 0
		}
		for _, st := range stats {
			live[st.Source] = struct{}{}
		}
	}

	cached, err := dp.Cache.Cached()
	if err != nil {
		logger.Warn("disk_pressure: list cached sources failed",
			slog.String("error", err.Error()),
		)
		return 0
	}

	logger.Warn("disk_pressure: low disk space, pruning cache",
		slog.Int64("freeBytes", free),
		slog.Int64("thresholdBytes", dp.MinFreeBytes),
	)

	pruned := 0
	for _, cs := range cached {
		if _, ok := live[cs.Source]; ok {
			continue
		}
		if err := dp.Cache.Delete(cs.Source); err != nil {
			logger.Warn("disk_pressure: delete cached source failed",
				slog.String("source", cs.Source),
				slog.String("error", err.Error()),
			)
			continue
		}
		pruned++
		metrics.CachePrunedTotal.Inc()
		logger.Info("disk_pressure: pruned cached source",
			slog.String("source", cs.Source),
			slog.Int64("residentBytes", cs.ResidentBytes),
		)

		free, err = freeBytes(dp.DataDir)
		if err != nil || free >= resume {
			break
		}
	}
	return pruned
}
