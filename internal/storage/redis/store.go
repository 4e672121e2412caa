// Package redis implements the correlation store using Redis
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// Config holds Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key written by the store
	Prefix string
	// Retention is how long a record lives after its last write
	Retention time.Duration
}

// Store implements correlation.Store on Redis. Each record is a JSON meta
// key plus a list of results; a sorted set indexes records by creation
// time for List.
type Store struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// meta is the record without its results
type meta struct {
	RequestID   string              `json:"requestId"`
	PatientID   string              `json:"patientId,omitempty"`
	CxID        string              `json:"cxId,omitempty"`
	Transaction ihe.TransactionType `json:"transaction,omitempty"`
	Expected    int                 `json:"expected"`
	Forwarded   int                 `json:"forwarded,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	return NewStoreWithClient(client, cfg.Prefix, cfg.Retention), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "ihe-gateway"
	}
	if retention <= 0 {
		retention = correlation.DefaultRetention
	}
	return &Store{client: client, prefix: prefix, retention: retention}
}

func (s *Store) metaKey(id string) string    { return s.prefix + ":result:" + id + ":meta" }
func (s *Store) resultsKey(id string) string { return s.prefix + ":result:" + id + ":items" }
func (s *Store) indexKey() string            { return s.prefix + ":results" }

// Begin writes the request metadata, keeping the creation time of a
// record an early result already opened
func (s *Store) Begin(ctx context.Context, rec correlation.Record) error {
	now := time.Now().UTC()
	m := meta{
		RequestID:   rec.RequestID,
		PatientID:   rec.PatientID,
		CxID:        rec.CxID,
		Transaction: rec.Transaction,
		Expected:    rec.Expected,
		Forwarded:   rec.Forwarded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := s.meta(ctx, rec.RequestID); err == nil {
		m.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, correlation.ErrNotFound) {
		return err
	}

	data, err := gojson.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.RequestID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.metaKey(rec.RequestID), data, s.retention)
		pipe.Expire(ctx, s.resultsKey(rec.RequestID), s.retention)
		pipe.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(m.CreatedAt.UnixMilli()), Member: rec.RequestID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("beginning %s: %w", rec.RequestID, err)
	}
	return nil
}

// Append pushes one result, opening a bare record when needed
func (s *Store) Append(ctx context.Context, requestID string, result json.RawMessage) error {
	now := time.Now().UTC()
	bare, err := gojson.Marshal(meta{RequestID: requestID, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.resultsKey(requestID), []byte(result))
		pipe.Expire(ctx, s.resultsKey(requestID), s.retention)
		pipe.SetNX(ctx, s.metaKey(requestID), bare, s.retention)
		pipe.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: requestID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending to %s: %w", requestID, err)
	}
	return nil
}

func (s *Store) meta(ctx context.Context, requestID string) (*meta, error) {
	data, err := s.client.Get(ctx, s.metaKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, correlation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", requestID, err)
	}
	var m meta
	if err := gojson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", requestID, err)
	}
	return &m, nil
}

// Fetch returns the record with every result landed so far
func (s *Store) Fetch(ctx context.Context, requestID string) (*correlation.Record, error) {
	m, err := s.meta(ctx, requestID)
	if err != nil {
		return nil, err
	}
	items, err := s.client.LRange(ctx, s.resultsKey(requestID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching results of %s: %w", requestID, err)
	}

	rec := &correlation.Record{
		RequestID:   m.RequestID,
		PatientID:   m.PatientID,
		CxID:        m.CxID,
		Transaction: m.Transaction,
		Expected:    m.Expected,
		Forwarded:   m.Forwarded,
		Results:     make([]json.RawMessage, len(items)),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for i, item := range items {
		rec.Results[i] = json.RawMessage(item)
	}
	return rec, nil
}

// Delete removes the record and its index entry
func (s *Store) Delete(ctx context.Context, requestID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.metaKey(requestID), s.resultsKey(requestID))
		pipe.ZRem(ctx, s.indexKey(), requestID)
		return nil
	})
	return err
}

// List returns every live record, oldest first. Index entries whose keys
// have expired are dropped on the way.
func (s *Store) List(ctx context.Context) ([]*correlation.Record, error) {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprint(cutoff)).Err(); err != nil {
		return nil, err
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*correlation.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Fetch(ctx, id)
		if errors.Is(err, correlation.ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ping verifies the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *Store) Close(context.Context) error {
	return s.client.Close()
}

var _ correlation.Store = (*Store)(nil)
