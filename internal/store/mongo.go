package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/carscout/carscout-ai/pkg/logging"
)

const (
	collThreads  = "threads"
	collMessages = "messages"
	collListings = "carlistings"
	collVisits   = "visits"
)

// Store owns the MongoDB connection and exposes the per-collection
// repositories.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logging.Logger

	Threads  *ThreadRepo
	Messages *MessageRepo
	Listings *ListingRepo
	Visits   *VisitRepo
}

// Connect dials MongoDB, verifies the connection with a ping, and ensures the
// collection indexes exist.
func Connect(ctx context.Context, uri string, log *logging.Logger) (*Store, error) {
	if log == nil {
		panic("store: logger is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	db := client.Database(databaseName(uri))
	s := &Store{
		client: client,
		db:     db,
		log:    log,
	}
	s.Threads = &ThreadRepo{coll: db.Collection(collThreads)}
	s.Messages = &MessageRepo{coll: db.Collection(collMessages)}
	s.Listings = &ListingRepo{coll: db.Collection(collListings)}
	s.Visits = &VisitRepo{coll: db.Collection(collVisits)}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("connected to mongodb", "database", db.Name())
	return s, nil
}

// databaseName pulls the database out of the connection string, defaulting to
// "test" when the path is empty.
func databaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "test"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "test"
	}
	return name
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		collThreads: {
			{Keys: bson.D{{Key: "phoneNumber", Value: 1}}},
			{Keys: bson.D{{Key: "lastMessageTime", Value: -1}}},
		},
		collMessages: {
			{Keys: bson.D{{Key: "threadId", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		collListings: {
			{Keys: bson.D{{Key: "threadId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "phoneNumber", Value: 1}}},
		},
		collVisits: {
			{Keys: bson.D{{Key: "scheduledTime", Value: 1}}},
			{Keys: bson.D{{Key: "threadId", Value: 1}}},
		},
	}
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("store: ensure indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Ping verifies the connection is still healthy.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// PurgeThread removes a thread and every record attached to it: messages,
// the car listing, and visits. Used by the purge script to reset a dealer
// conversation from scratch.
func (s *Store) PurgeThread(ctx context.Context, phone string) error {
	thread, err := s.Threads.FindByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if thread == nil {
		return nil
	}
	filter := bson.M{"threadId": thread.ID}
	if _, err := s.db.Collection(collMessages).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("store: purge messages: %w", err)
	}
	if _, err := s.db.Collection(collListings).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("store: purge listings: %w", err)
	}
	if _, err := s.db.Collection(collVisits).DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("store: purge visits: %w", err)
	}
	if _, err := s.db.Collection(collThreads).DeleteOne(ctx, bson.M{"_id": thread.ID}); err != nil {
		return fmt.Errorf("store: purge thread: %w", err)
	}
	s.log.Info("purged thread", "phone", phone, "thread_id", thread.ID.Hex())
	return nil
}
