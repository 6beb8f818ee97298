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

// VisitRepo stores scheduled viewing appointments.
type VisitRepo struct {
	coll *mongo.Collection
}

// Insert creates a visit and fills in its generated id and timestamps.
func (r *VisitRepo) Insert(ctx context.Context, v *Visit) error {
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	if v.Status == "" {
		v.Status = VisitScheduled
	}
	res, err := r.coll.InsertOne(ctx, v)
	if err != nil {
		return fmt.Errorf("store: insert visit: %w", err)
	}
	v.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// FindByID returns a visit, or nil when not found.
func (r *VisitRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*Visit, error) {
	var v Visit
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find visit: %w", err)
	}
	return &v, nil
}

// FindBetween returns non-cancelled visits with a scheduled time inside
// [from, to). Used for conflict detection.
func (r *VisitRepo) FindBetween(ctx context.Context, from, to time.Time) ([]Visit, error) {
	filter := bson.M{
		"scheduledTime": bson.M{"$gte": from, "$lt": to},
		"status":        bson.M{"$ne": VisitCancelled},
	}
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: find visits between: %w", err)
	}
	defer cur.Close(ctx)
	visits := []Visit{}
	if err := cur.All(ctx, &visits); err != nil {
		return nil, fmt.Errorf("store: decode visits: %w", err)
	}
	return visits, nil
}

// ListByThread returns a thread's visits soonest first.
func (r *VisitRepo) ListByThread(ctx context.Context, threadID primitive.ObjectID) ([]Visit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduledTime", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{"threadId": threadID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list visits: %w", err)
	}
	defer cur.Close(ctx)
	visits := []Visit{}
	if err := cur.All(ctx, &visits); err != nil {
		return nil, fmt.Errorf("store: decode visits: %w", err)
	}
	return visits, nil
}

// VisitFilter narrows the dashboard visit listing.
type VisitFilter struct {
	From   *time.Time
	To     *time.Time
	Status string
}

// List returns visits soonest first. Cancelled visits are excluded unless
// explicitly asked for by status.
func (r *VisitRepo) List(ctx context.Context, f VisitFilter) ([]Visit, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	} else {
		filter["status"] = bson.M{"$ne": VisitCancelled}
	}
	if f.From != nil || f.To != nil {
		rangeFilter := bson.M{}
		if f.From != nil {
			rangeFilter["$gte"] = *f.From
		}
		if f.To != nil {
			rangeFilter["$lt"] = *f.To
		}
		filter["scheduledTime"] = rangeFilter
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduledTime", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list visits: %w", err)
	}
	defer cur.Close(ctx)
	visits := []Visit{}
	if err := cur.All(ctx, &visits); err != nil {
		return nil, fmt.Errorf("store: decode visits: %w", err)
	}
	return visits, nil
}

// UpdateStatus changes a visit's status and bumps updatedAt.
func (r *VisitRepo) UpdateStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"status":    status,
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("store: update visit status: %w", err)
	}
	return nil
}
