package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewStore(ctx, &Config{
		URI:        uri,
		Database:   "ihe_gateway_test",
		Collection: "results_" + uuid.NewString()[:8],
		Retention:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.results.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestStore_BeginAppendFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	// a result may land before the request is registered
	require.NoError(t, s.Append(ctx, id, json.RawMessage(`{"gateway":"early"}`)))
	require.NoError(t, s.Begin(ctx, correlation.Record{
		RequestID:   id,
		PatientID:   "patient-1",
		CxID:        "cx-1",
		Transaction: ihe.DocumentQuery,
		Expected:    2,
	}))
	require.NoError(t, s.Append(ctx, id, json.RawMessage(`{"gateway":"late"}`)))

	rec, err := s.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "patient-1", rec.PatientID)
	assert.Equal(t, "cx-1", rec.CxID)
	assert.Equal(t, ihe.DocumentQuery, rec.Transaction)
	assert.Len(t, rec.Results, 2)
	assert.JSONEq(t, `{"gateway":"early"}`, string(rec.Results[0]))
	assert.True(t, rec.Complete())
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, s.Begin(ctx, correlation.Record{RequestID: id, Transaction: ihe.PatientDiscovery, Expected: 20}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, correlation.Add(ctx, s, id, map[string]int{"n": i}))
		}()
	}
	wg.Wait()

	rec, err := s.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rec.Results, 20)
	assert.True(t, rec.Complete())
}

func TestStore_DeleteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("req-%d-%s", i, uuid.NewString())
		ids = append(ids, id)
		require.NoError(t, s.Begin(ctx, correlation.Record{RequestID: id, Transaction: ihe.DocumentRetrieval}))
		time.Sleep(5 * time.Millisecond)
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.RequestID)
	}

	require.NoError(t, s.Delete(ctx, ids[0]))
	require.NoError(t, s.Delete(ctx, ids[0]))
	_, err = s.Fetch(ctx, ids[0])
	assert.ErrorIs(t, err, correlation.ErrNotFound)
}
