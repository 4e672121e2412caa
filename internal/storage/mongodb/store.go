// Package mongodb implements the correlation store using MongoDB
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/metriport/ihe-gateway/pkg/correlation"
)

// Store implements correlation.Store using MongoDB. Records expire through
// a TTL index on their creation time.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	results *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI        string
	Database   string
	Collection string
	// Retention is how long a record lives after creation
	Retention time.Duration
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	// Connect to MongoDB
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "ihe_gateway"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "outbound_results"
	}
	db := client.Database(database)

	s := &Store{
		client:  client,
		db:      db,
		results: db.Collection(collection),
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = correlation.DefaultRetention
	}
	if err := s.createIndexes(ctx, retention); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context, retention time.Duration) error {
	_, err := s.results.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
		{Keys: bson.D{{Key: "cx_id", Value: 1}, {Key: "patient_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating result indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Begin upserts the request metadata without touching stored results
func (s *Store) Begin(ctx context.Context, rec correlation.Record) error {
	now := time.Now().UTC()
	_, err := s.results.UpdateOne(ctx, bson.M{"_id": rec.RequestID}, bson.M{
		"$set": bson.M{
			"patient_id":  rec.PatientID,
			"cx_id":       rec.CxID,
			"transaction": rec.Transaction,
			"expected":    rec.Expected,
			"forwarded":   rec.Forwarded,
			"updated_at":  now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
			"results":    bson.A{},
		},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("beginning %s: %w", rec.RequestID, err)
	}
	return nil
}

// Append pushes one result. $push is atomic per document, so concurrent
// appends for the same request never lose a result.
func (s *Store) Append(ctx context.Context, requestID string, result json.RawMessage) error {
	now := time.Now().UTC()
	_, err := s.results.UpdateOne(ctx, bson.M{"_id": requestID}, bson.M{
		"$push":        bson.M{"results": result},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("appending to %s: %w", requestID, err)
	}
	return nil
}

// Fetch returns the record or correlation.ErrNotFound
func (s *Store) Fetch(ctx context.Context, requestID string) (*correlation.Record, error) {
	var rec correlation.Record
	err := s.results.FindOne(ctx, bson.M{"_id": requestID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, correlation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", requestID, err)
	}
	return &rec, nil
}

// Delete removes the record
func (s *Store) Delete(ctx context.Context, requestID string) error {
	_, err := s.results.DeleteOne(ctx, bson.M{"_id": requestID})
	return err
}

// List returns every record, oldest first
func (s *Store) List(ctx context.Context) ([]*correlation.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.results.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*correlation.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

var _ correlation.Store = (*Store)(nil)
