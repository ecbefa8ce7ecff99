package model

import "go.mongodb.org/mongo-driver/bson/primitive"

// NewID generates a document id. ObjectID hex keeps ids sortable by
// creation time and plays well with the document store.
func NewID() string {
	return primitive.NewObjectID().Hex()
}
