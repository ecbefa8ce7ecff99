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

// MongoRooms implements Rooms over the rooms collection.
type MongoRooms struct {
	col *mongo.Collection
}

func (r *MongoRooms) Insert(ctx context.Context, room *model.Room) error {
	_, err := r.col.InsertOne(ctx, room)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoRooms) ByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *MongoRooms) Update(ctx context.Context, id string, fields map[string]any) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRooms) IncMembers(ctx context.Context, id string, delta int) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"membersCount": delta},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRooms) ListByIDs(ctx context.Context, ids []string, page, limit int) ([]model.Room, int64, error) {
	if len(ids) == 0 {
		return []model.Room{}, 0, nil
	}
	filter := bson.M{"_id": bson.M{"$in": ids}}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(page-1) * int64(limit)).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var rooms []model.Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, 0, err
	}
	return rooms, total, nil
}
