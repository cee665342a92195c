package sessions

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
)

// MongoBlacklist implements BlacklistRepository on a Mongo collection keyed by
// the token digest. A TTL index on expiresAt lets the server expire entries;
// SweepExpired removes them eagerly.
type MongoBlacklist struct {
	col *mongo.Collection
	now func() time.Time
}

func NewMongoBlacklist(col *mongo.Collection) *MongoBlacklist {
	return &MongoBlacklist{col: col, now: time.Now}
}

type mongoBlacklistDoc struct {
	ID                    string `bson:"_id"`
	models.BlacklistEntry `bson:",inline"`
}

// EnsureIndexes creates the TTL index on expiresAt.
func (r *MongoBlacklist) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("blacklist indexes: %w", err)
	}
	return nil
}

func (r *MongoBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.col.CountDocuments(ctx,
		bson.M{"_id": tokenKey(token), "expiresAt": bson.M{"$gt": r.now().UTC()}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("mongo blacklist lookup: %w", err)
	}
	return n > 0, nil
}

func (r *MongoBlacklist) Blacklist(ctx context.Context, e models.BlacklistEntry) error {
	doc := mongoBlacklistDoc{ID: tokenKey(e.Token), BlacklistEntry: e}
	_, err := r.col.InsertOne(ctx, doc)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo blacklist insert: %w", err)
	}
	// An expired entry the TTL monitor has not removed yet may be replaced.
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "expiresAt": bson.M{"$lte": r.now().UTC()}},
		bson.M{"$set": bson.M{"userId": e.UserID, "reason": e.Reason, "expiresAt": e.ExpiresAt, "createdAt": e.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("mongo blacklist replace: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAlreadyBlacklisted
	}
	return nil
}

func (r *MongoBlacklist) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("mongo blacklist sweep: %w", err)
	}
	return int(res.DeletedCount), nil
}
