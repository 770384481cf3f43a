package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"playerhub/internal/domain"
)

const defaultRecentLimit = 20

type watchPositionDoc struct {
	ID        string  `bson:"_id"`
	Position  float64 `bson:"position"`
	Duration  float64 `bson:"duration"`
	UpdatedAt int64   `bson:"updatedAt"`
}

type WatchHistoryRepository struct {
	collection *mongo.Collection
}

// Connect opens a client traced with the otelmongo monitor. Extra options
// are applied after the URI.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{
		options.Client().ApplyURI(uri).SetMonitor(otelmongo.NewMonitor()),
	}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func NewWatchHistoryRepository(client *mongo.Client, dbName string) *WatchHistoryRepository {
	return &WatchHistoryRepository{collection: client.Database(dbName).Collection("watch_history")}
}

func (r *WatchHistoryRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	})
	return err
}

// watchDocID keys a position by its source URL, ignoring surrounding
// whitespace and the cache marker.
func watchDocID(source string) string {
	source = strings.TrimSpace(source)
	if len(source) > len("cache+") && strings.EqualFold(source[:len("cache+")], "cache+") {
		source = source[len("cache+"):]
	}
	return source
}

func (r *WatchHistoryRepository) Upsert(ctx context.Context, wp domain.WatchPosition) error {
	id := watchDocID(wp.Source)
	if id == "" {
		return errors.New("watch position source is required")
	}
	updatedAt := wp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	update := bson.M{
		"$set": bson.M{
			"position":  wp.Position,
			"duration":  wp.Duration,
			"updatedAt": updatedAt.Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *WatchHistoryRepository) Get(ctx context.Context, source string) (domain.WatchPosition, error) {
	var doc watchPositionDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": watchDocID(source)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.WatchPosition{}, domain.ErrNotFound
		}
		return domain.WatchPosition{}, err
	}
	return watchDocToPosition(doc), nil
}

func (r *WatchHistoryRepository) ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []watchPositionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	positions := make([]domain.WatchPosition, 0, len(docs))
	for _, doc := range docs {
		positions = append(positions, watchDocToPosition(doc))
	}
	return positions, nil
}

func watchDocToPosition(doc watchPositionDoc) domain.WatchPosition {
	return domain.WatchPosition{
		Source:    doc.ID,
		Position:  doc.Position,
		Duration:  doc.Duration,
		UpdatedAt: time.Unix(doc.UpdatedAt, 0).UTC(),
	}
}
