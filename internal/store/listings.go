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

// ListingRepo stores the car listing attached to each thread.
type ListingRepo struct {
	coll *mongo.Collection
}

// FindByThread returns the listing for a thread, or nil when none exists.
func (r *ListingRepo) FindByThread(ctx context.Context, threadID primitive.ObjectID) (*CarListing, error) {
	var l CarListing
	err := r.coll.FindOne(ctx, bson.M{"threadId": threadID}).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find listing: %w", err)
	}
	return &l, nil
}

// Upsert writes the listing for its thread, creating the document on first
// extraction. The threadId unique index guarantees one listing per thread.
func (r *ListingRepo) Upsert(ctx context.Context, l *CarListing) error {
	l.ExtractedAt = time.Now().UTC()
	filter := bson.M{"threadId": l.ThreadID}
	update := bson.M{"$set": l}
	opts := options.Update().SetUpsert(true)
	res, err := r.coll.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("store: upsert listing: %w", err)
	}
	if res.UpsertedID != nil {
		l.ID = res.UpsertedID.(primitive.ObjectID)
	}
	return nil
}

// MarkComplete flags the listing's conversation as finished.
func (r *ListingRepo) MarkComplete(ctx context.Context, threadID primitive.ObjectID) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"threadId": threadID},
		bson.M{"$set": bson.M{"conversationComplete": true}})
	if err != nil {
		return fmt.Errorf("store: mark listing complete: %w", err)
	}
	return nil
}

// List returns all listings, most recently extracted first.
func (r *ListingRepo) List(ctx context.Context) ([]CarListing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "extractedAt", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list listings: %w", err)
	}
	defer cur.Close(ctx)
	listings := []CarListing{}
	if err := cur.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("store: decode listings: %w", err)
	}
	return listings, nil
}
