package audit

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoSink appends events to an audit collection.
type MongoSink struct {
	col *mongo.Collection
}

func NewMongoSink(col *mongo.Collection) *MongoSink {
	return &MongoSink{col: col}
}

// EnsureIndexes adds lookup indexes for per-user and per-type queries.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("audit indexes: %w", err)
	}
	return nil
}

func (s *MongoSink) Record(ctx context.Context, e Event) error {
	if _, err := s.col.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("audit mongo insert: %w", err)
	}
	return nil
}
