package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo bundles the collection repositories over one client.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database

	Users       *MongoUsers
	Rooms       *MongoRooms
	Memberships *MongoMemberships
	Messages    *MongoMessages
}

// NewMongo connects to the document store, verifies the connection and
// ensures the secondary indexes the read paths depend on.
func NewMongo(ctx context.Context, uri string, logger zerolog.Logger) (*Mongo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(databaseName(uri))
	m := &Mongo{
		client:      client,
		db:          db,
		Users:       &MongoUsers{col: db.Collection("users")},
		Rooms:       &MongoRooms{col: db.Collection("rooms")},
		Memberships: &MongoMemberships{col: db.Collection("memberships")},
		Messages:    &MongoMessages{col: db.Collection("messages")},
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}

	logger.Info().Str("component", "repo").Str("database", db.Name()).Msg("Mongo connected")
	return m, nil
}

// databaseName extracts the database from the URI path, defaulting to
// "parley".
func databaseName(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			name := uri[i+1:]
			for j := range name {
				if name[j] == '?' {
					name = name[:j]
					break
				}
			}
			if name != "" && name != "/" {
				return name
			}
			break
		}
	}
	return "parley"
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	unique := options.Index().SetUnique(true)

	if _, err := m.Users.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}}, Options: unique,
	}); err != nil {
		return err
	}
	if _, err := m.Memberships.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := m.Messages.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: -1}},
	}); err != nil {
		return err
	}
	return nil
}

// Close disconnects from the document store.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// isDuplicate reports whether err is a unique-index violation.
func isDuplicate(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
