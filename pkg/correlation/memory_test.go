package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

func TestNewMemoryStore(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close(context.Background())

	assert.NotNil(t, s.records)
	assert.Equal(t, DefaultRetention, s.retention)
}

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		want      time.Duration
	}{
		{24 * time.Hour, time.Hour},
		{time.Hour, 15 * time.Minute},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sweepInterval(tt.retention), "retention %v", tt.retention)
	}
}

func TestMemoryStore_BeginAppendFetch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	require.NoError(t, s.Begin(ctx, Record{
		RequestID:   "req-1",
		PatientID:   "patient-1",
		CxID:        "cx-1",
		Transaction: ihe.DocumentQuery,
		Expected:    2,
	}))
	require.NoError(t, Add(ctx, s, "req-1", map[string]string{"id": "a"}))

	rec, err := s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "patient-1", rec.PatientID)
	assert.Equal(t, "cx-1", rec.CxID)
	assert.Equal(t, ihe.DocumentQuery, rec.Transaction)
	require.Len(t, rec.Results, 1)
	assert.False(t, rec.Complete())

	require.NoError(t, Add(ctx, s, "req-1", map[string]string{"id": "b"}))
	rec, err = s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, rec.Complete())
}

func TestMemoryStore_AppendBeforeBegin(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	require.NoError(t, s.Append(ctx, "req-1", json.RawMessage(`{"id":"early"}`)))
	require.NoError(t, s.Begin(ctx, Record{RequestID: "req-1", CxID: "cx-1", Expected: 3}))

	rec, err := s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, rec.Results, 1, "early result survives Begin")
	assert.Equal(t, 3, rec.Expected)
}

func TestMemoryStore_BeginRecordsForwarded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	require.NoError(t, s.Begin(ctx, Record{RequestID: "req-1", Transaction: ihe.DocumentRetrieval, Expected: 3}))
	require.NoError(t, s.Append(ctx, "req-1", json.RawMessage(`1`)))
	require.NoError(t, s.Append(ctx, "req-1", json.RawMessage(`2`)))

	rec, err := s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	created := rec.CreatedAt
	rec.Forwarded = 2
	require.NoError(t, s.Begin(ctx, *rec))
	require.NoError(t, s.Append(ctx, "req-1", json.RawMessage(`3`)))

	rec, err = s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Forwarded)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, []json.RawMessage{json.RawMessage(`3`)}, rec.Pending())
}

func TestMemoryStore_FetchNotFound(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close(context.Background())

	_, err := s.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FetchReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	require.NoError(t, s.Append(ctx, "req-1", json.RawMessage(`1`)))
	rec, err := s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	rec.Results = append(rec.Results, json.RawMessage(`2`))

	again, err := s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, again.Results, 1)
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	require.NoError(t, s.Append(ctx, "req-1", json.RawMessage(`1`)))
	require.NoError(t, s.Delete(ctx, "req-1"))

	_, err := s.Fetch(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "req-1"), "deleting a missing record succeeds")
}

func TestMemoryStore_ListOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Append(ctx, id, json.RawMessage(`1`)))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, want := range []string{"c", "a", "b"} {
		assert.Equal(t, want, list[i].RequestID, "position %d", i)
	}
}

func TestMemoryStore_Expire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	require.NoError(t, s.Append(ctx, "old", json.RawMessage(`1`)))
	s.now = func() time.Time { return now.Add(-time.Minute) }
	require.NoError(t, s.Append(ctx, "fresh", json.RawMessage(`1`)))

	s.now = func() time.Time { return now }
	assert.Equal(t, 1, s.expire())

	_, err := s.Fetch(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Fetch(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	defer s.Close(ctx)

	const gateways = 50
	require.NoError(t, s.Begin(ctx, Record{RequestID: "req-1", Expected: gateways}))

	var wg sync.WaitGroup
	for i := 0; i < gateways; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, Add(ctx, s, "req-1", ihe.DocumentQueryResult{ID: fmt.Sprintf("gw-%d", i)}))
		}(i)
		go func() {
			defer wg.Done()
			_, err := s.Fetch(ctx, "req-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Fetch(ctx, "req-1")
	require.NoError(t, err)
	results, err := Decode[ihe.DocumentQueryResult](rec)
	require.NoError(t, err)
	require.Len(t, results, gateways)

	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.ID] = true
	}
	assert.Len(t, seen, gateways)
	assert.True(t, rec.Complete())
}

func TestDecode_Invalid(t *testing.T) {
	rec := &Record{RequestID: "req-1", Results: []json.RawMessage{json.RawMessage(`"text"`)}}
	_, err := Decode[ihe.PatientDiscoveryResult](rec)
	assert.Error(t, err)
}

func TestRecord_Complete(t *testing.T) {
	rec := &Record{}
	assert.False(t, rec.Complete(), "record without expected count is never complete")

	rec.Expected = 1
	rec.Results = []json.RawMessage{json.RawMessage(`1`)}
	assert.True(t, rec.Complete())
}

func TestRecord_Pending(t *testing.T) {
	rec := &Record{Results: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`)}}
	assert.Len(t, rec.Pending(), 2)

	rec.Forwarded = 1
	assert.Equal(t, []json.RawMessage{json.RawMessage(`2`)}, rec.Pending())

	rec.Forwarded = 5
	assert.Empty(t, rec.Pending())
}
