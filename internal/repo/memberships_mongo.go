package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/parleychat/parley/internal/model"
)

// MongoMemberships implements Memberships over the memberships
// collection. The unique (roomId, userId) index enforces the pair
// invariant at the store.
type MongoMemberships struct {
	col *mongo.Collection
}

func (r *MongoMemberships) Insert(ctx context.Context, m *model.Membership) error {
	_, err := r.col.InsertOne(ctx, m)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (r *MongoMemberships) Get(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	var m model.Membership
	err := r.col.FindOne(ctx, bson.M{"roomId": roomID, "userId": userID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoMemberships) Delete(ctx context.Context, roomID, userID string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"roomId": roomID, "userId": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoMemberships) ListByRoom(ctx context.Context, roomID string) ([]model.Membership, error) {
	cur, err := r.col.Find(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var members []model.Membership
	if err := cur.All(ctx, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *MongoMemberships) RoomIDsByUser(ctx context.Context, userID string) ([]string, error) {
	cur, err := r.col.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var memberships []model.Membership
	if err := cur.All(ctx, &memberships); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.RoomID)
	}
	return ids, nil
}

func (r *MongoMemberships) UpdateRole(ctx context.Context, roomID, userID, role string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"roomId": roomID, "userId": userID},
		bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoMemberships) CountOwners(ctx context.Context, roomID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"roomId": roomID, "role": model.MemberRoleOwner})
}

func (r *MongoMemberships) SetLastRead(ctx context.Context, roomID, userID, messageID string, at time.Time) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"roomId": roomID, "userId": userID},
		bson.M{"$set": bson.M{"lastReadMessageId": messageID, "lastSeenAt": at}})
	return err
}
