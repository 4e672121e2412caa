package correlation

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Records older than the
// retention window are removed by a background sweep.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	retention time.Duration

	stop chan struct{}
	once sync.Once
	now  func() time.Time
}

// NewMemoryStore creates a store and starts its cleanup loop. A zero
// retention uses DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &MemoryStore{
		records:   make(map[string]*Record),
		retention: retention,
		stop:      make(chan struct{}),
		now:       time.Now,
	}

	go s.cleanupExpired(sweepInterval(retention))

	return s
}

func sweepInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Begin records the request metadata
func (s *MemoryStore) Begin(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.records[rec.RequestID]
	if !ok {
		existing = &Record{RequestID: rec.RequestID, CreatedAt: now}
		s.records[rec.RequestID] = existing
	}
	existing.PatientID = rec.PatientID
	existing.CxID = rec.CxID
	existing.Transaction = rec.Transaction
	existing.Expected = rec.Expected
	existing.Forwarded = rec.Forwarded
	existing.UpdatedAt = now
	return nil
}

// Append adds one result
func (s *MemoryStore) Append(_ context.Context, requestID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[requestID]
	if !ok {
		rec = &Record{RequestID: requestID, CreatedAt: now}
		s.records[requestID] = rec
	}
	rec.Results = append(rec.Results, slices.Clone(result))
	rec.UpdatedAt = now
	return nil
}

// Fetch returns a copy of the record
func (s *MemoryStore) Fetch(_ context.Context, requestID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// Delete removes the record
func (s *MemoryStore) Delete(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, requestID)
	return nil
}

// List returns copies of every record, oldest first
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	slices.SortFunc(out, func(a, b *Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the cleanup loop
func (s *MemoryStore) Close(context.Context) error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

// expire drops records created before the retention window and returns
// how many were removed.
func (s *MemoryStore) expire() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (r *Record) clone() *Record {
	c := *r
	c.Results = slices.Clone(r.Results)
	return &c
}
