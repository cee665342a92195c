package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
)

// ErrNotFound is returned by write operations addressing an unknown user.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("user not found")

// UserRepository defines persistence operations for users and their session field.
type UserRepository interface {
	UpsertBySub(ctx context.Context, u *models.User) (*models.User, error)
	GetBySub(ctx context.Context, sub string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	GetByRefreshToken(ctx context.Context, token string) (*models.User, error)
	// UpdateRefreshToken replaces the session field; an empty token clears it.
	UpdateRefreshToken(ctx context.Context, id, token string) error
	// ClearRefreshTokenIf clears the session field only while it still holds token.
	ClearRefreshTokenIf(ctx context.Context, id, token string) (bool, error)
	// FindAll returns the users that currently hold a session field. It is
	// served by the sparse refreshToken index but still scans every active
	// session; callers must treat it as expensive.
	FindAll(ctx context.Context) ([]*models.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

// EnsureIndexes creates the unique subject index and the session field lookup index.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sub", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "refreshToken", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	filter := bson.M{"sub": u.Sub}
	upd := bson.M{
		"$set": bson.M{
			"email":     u.Email,
			"name":      u.Name,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"_id":       uuid.NewString(),
			"createdAt": now,
			"isActive":  true,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, filter, upd, opts).Decode(&updated); err != nil {
		return nil, fmt.Errorf("upsert user %q: %w", u.Sub, err)
	}
	return &updated, nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"sub": sub})
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"refreshToken": token})
}

func (r *MongoUserRepository) UpdateRefreshToken(ctx context.Context, id, token string) error {
	now := time.Now().UTC()
	var upd bson.M
	if token == "" {
		upd = bson.M{"$unset": bson.M{"refreshToken": ""}, "$set": bson.M{"updatedAt": now}}
	} else {
		upd = bson.M{"$set": bson.M{"refreshToken": token, "updatedAt": now}}
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, upd)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) ClearRefreshTokenIf(ctx context.Context, id, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "refreshToken": token},
		bson.M{"$unset": bson.M{"refreshToken": ""}, "$set": bson.M{"updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("clear refresh token: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

func (r *MongoUserRepository) FindAll(ctx context.Context) ([]*models.User, error) {
	cur, err := r.col.Find(ctx, bson.M{"refreshToken": bson.M{"$exists": true}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var out []*models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

func (r *MongoUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().UTC()}})
}

func (r *MongoUserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{"deletedAt": at.UTC(), "updatedAt": time.Now().UTC()}})
}

func (r *MongoUserRepository) updateByID(ctx context.Context, id string, upd bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, upd)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
