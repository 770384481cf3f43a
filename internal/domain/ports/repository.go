package ports

import (
	"context"

	"playerhub/internal/domain"
)

type WatchHistoryRepository interface {
	Upsert(ctx context.Context, wp domain.WatchPosition) error
	Get(ctx context.Context, source string) (domain.WatchPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error)
}
