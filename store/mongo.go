package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qianlnk/werewolf-channels/models"
	"github.com/qianlnk/werewolf-channels/services"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore 基于 MongoDB 的历史存储
type MongoStore struct {
	history  *mongo.Collection
	outcomes *mongo.Collection
	logger   *slog.Logger
}

var _ services.HistoryStore = (*MongoStore)(nil)

// NewMongoStore 使用已连接的客户端创建存储并确保索引存在
func NewMongoStore(ctx context.Context, client *mongo.Client, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := client.Database(database)
	s := &MongoStore{
		history:  db.Collection("action_history"),
		outcomes: db.Collection("outcomes"),
		logger:   logger.With("component", "store"),
	}
	if err := s.createIndex(ctx, s.history, bson.D{
		{Key: "session_id", Value: 1},
		{Key: "day", Value: 1},
		{Key: "kind", Value: 1},
		{Key: "actor_id", Value: 1},
	}); err != nil {
		return nil, err
	}
	if err := s.createIndex(ctx, s.outcomes, bson.D{{Key: "session_id", Value: 1}}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) createIndex(ctx context.Context, coll *mongo.Collection, keys bson.D) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create index on %s: %w", coll.Name(), err)
	}
	return nil
}

func (s *MongoStore) Append(ctx context.Context, record models.HistoryRecord) error {
	_, err := s.history.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s/%d/%s/%s", ErrDuplicateRecord, record.SessionID, record.Day, record.Kind, record.ActorID)
	}
	return err
}

func (s *MongoStore) List(ctx context.Context, sessionID string) ([]models.HistoryRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "day", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.history.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]models.HistoryRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *MongoStore) SaveOutcome(ctx context.Context, outcome models.Outcome) error {
	_, err := s.outcomes.InsertOne(ctx, outcome)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: outcome %s", ErrDuplicateRecord, outcome.SessionID)
	}
	return err
}

func (s *MongoStore) Outcome(ctx context.Context, sessionID string) (*models.Outcome, error) {
	var outcome models.Outcome
	err := s.outcomes.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&outcome)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: outcome %s", services.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}
