package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepo stores the SMS log.
type MessageRepo struct {
	coll *mongo.Collection
}

// Insert appends a message to the log and fills in its generated id.
func (r *MessageRepo) Insert(ctx context.Context, m *Message) error {
	res, err := r.coll.InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	m.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// ListByThread returns a thread's messages oldest first.
func (r *MessageRepo) ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"threadId": threadID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer cur.Close(ctx)
	msgs := []Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("store: decode messages: %w", err)
	}
	return msgs, nil
}
