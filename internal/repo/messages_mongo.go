package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/parleychat/parley/internal/model"
)

// MongoMessages implements Messages over the messages collection.
// History order is createdAt descending; the (roomId, createdAt) index
// serves both the cursor and offset paths.
type MongoMessages struct {
	col *mongo.Collection
}

func (r *MongoMessages) Insert(ctx context.Context, m *model.Message) error {
	_, err := r.col.InsertOne(ctx, m)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoMessages) ByID(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessages) ListByRoom(ctx context.Context, roomID string, limit int, before *time.Time, skip int64) ([]model.Message, error) {
	filter := bson.M{"roomId": roomID, "deletedAt": nil}
	if before != nil {
		filter["createdAt"] = bson.M{"$lt": *before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	if before == nil && skip > 0 {
		opts.SetSkip(skip)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var messages []model.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MongoMessages) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"roomId": roomID, "deletedAt": nil})
}

func (r *MongoMessages) SetBody(ctx context.Context, id, body string, editedAt time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"body":      body,
		"editedAt":  editedAt,
		"updatedAt": editedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoMessages) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"deletedAt": at,
		"updatedAt": at,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoMessages) UpdateModeration(ctx context.Context, id string, mod model.Moderation, at time.Time) (bool, error) {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"moderation": mod,
		"updatedAt":  at,
	}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}
