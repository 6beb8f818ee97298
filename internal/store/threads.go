package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ThreadRepo reads and writes conversation threads.
type ThreadRepo struct {
	coll *mongo.Collection
}

// FindByPhone returns the thread for a dealer phone number, or nil when none
// exists yet.
func (r *ThreadRepo) FindByPhone(ctx context.Context, phone string) (*Thread, error) {
	var t Thread
	err := r.coll.FindOne(ctx, bson.M{"phoneNumber": phone}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find thread by phone: %w", err)
	}
	return &t, nil
}

// FindByID returns a thread by its object id, or nil when not found.
func (r *ThreadRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*Thread, error) {
	var t Thread
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find thread: %w", err)
	}
	return &t, nil
}

// Create inserts a new thread and fills in its generated id.
func (r *ThreadRepo) Create(ctx context.Context, t *Thread) error {
	if t.State == "" {
		t.State = StateCollectingInfo
	}
	res, err := r.coll.InsertOne(ctx, t)
	if err != nil {
		return fmt.Errorf("store: create thread: %w", err)
	}
	t.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// RecordInbound updates the thread preview fields after a dealer message
// arrives and bumps the unread counter.
func (r *ThreadRepo) RecordInbound(ctx context.Context, id primitive.ObjectID, body string, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"lastMessage":     body,
			"lastMessageTime": at,
		},
		"$inc": bson.M{"unreadCount": 1},
	})
	if err != nil {
		return fmt.Errorf("store: record inbound: %w", err)
	}
	return nil
}

// RecordOutbound updates the thread preview fields after we send a reply.
func (r *ThreadRepo) RecordOutbound(ctx context.Context, id primitive.ObjectID, body string, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"lastMessage":     body,
			"lastMessageTime": at,
		},
	})
	if err != nil {
		return fmt.Errorf("store: record outbound: %w", err)
	}
	return nil
}

// MarkRead zeroes the unread counter.
func (r *ThreadRepo) MarkRead(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"unreadCount": 0}})
	if err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}
	return nil
}

// SetWaiting toggles the flag recording that the agent asked the dealer a
// question and is waiting on the answer.
func (r *ThreadRepo) SetWaiting(ctx context.Context, id primitive.ObjectID, waiting bool) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"waitingForDealerResponse": waiting}})
	if err != nil {
		return fmt.Errorf("store: set waiting: %w", err)
	}
	return nil
}

// SetState persists a validated state transition.
func (r *ThreadRepo) SetState(ctx context.Context, id primitive.ObjectID, state string) error {
	if _, ok := stateRank[state]; !ok {
		return fmt.Errorf("store: unknown thread state %q", state)
	}
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"state": state}})
	if err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

// MarkComplete flags the conversation as finished and moves it to the
// completed state.
func (r *ThreadRepo) MarkComplete(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"conversationComplete":     true,
		"state":                    StateCompleted,
		"waitingForDealerResponse": false,
	}})
	if err != nil {
		return fmt.Errorf("store: mark complete: %w", err)
	}
	return nil
}

// List returns all threads newest-activity first.
func (r *ThreadRepo) List(ctx context.Context) ([]Thread, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastMessageTime", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list threads: %w", err)
	}
	defer cur.Close(ctx)
	threads := []Thread{}
	if err := cur.All(ctx, &threads); err != nil {
		return nil, fmt.Errorf("store: decode threads: %w", err)
	}
	return threads, nil
}
