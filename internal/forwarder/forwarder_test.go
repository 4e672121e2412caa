package forwarder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/ihe-gateway/internal/api"
	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type post struct {
	tx    ihe.TransactionType
	batch api.ResultBatch
}

type fakePoster struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (p *fakePoster) PostResults(_ context.Context, tx ihe.TransactionType, batch api.ResultBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, post{tx: tx, batch: batch})
	return nil
}

func seed(t *testing.T, s correlation.Store, id string, tx ihe.TransactionType, expected, results int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx, correlation.Record{
		RequestID:   id,
		PatientID:   "patient-1",
		CxID:        "cx-1",
		Transaction: tx,
		Expected:    expected,
	}))
	for i := 0; i < results; i++ {
		require.NoError(t, correlation.Add(ctx, s, id, map[string]int{"n": i}))
	}
}

func TestPoll_ForwardsCompleteRecords(t *testing.T) {
	store := correlation.NewMemoryStore(time.Hour)
	defer store.Close(context.Background())
	seed(t, store, "done", ihe.DocumentQuery, 2, 2)
	seed(t, store, "pending", ihe.DocumentQuery, 3, 1)

	poster := &fakePoster{}
	f := New(store, poster, &Config{MaxWait: time.Hour}, quiet)

	assert.Equal(t, 1, f.Poll(context.Background()))
	require.Len(t, poster.posts, 1)
	assert.Equal(t, ihe.DocumentQuery, poster.posts[0].tx)
	assert.Equal(t, "done", poster.posts[0].batch.RequestID)
	assert.Equal(t, "cx-1", poster.posts[0].batch.CxID)
	assert.Len(t, poster.posts[0].batch.Results, 2)

	_, err := store.Fetch(context.Background(), "done")
	assert.ErrorIs(t, err, correlation.ErrNotFound)
	_, err = store.Fetch(context.Background(), "pending")
	assert.NoError(t, err)
}

func TestPoll_ForwardsAfterMaxWait(t *testing.T) {
	store := correlation.NewMemoryStore(time.Hour)
	defer store.Close(context.Background())
	seed(t, store, "slow", ihe.PatientDiscovery, 5, 2)

	poster := &fakePoster{}
	f := New(store, poster, &Config{MaxWait: time.Minute}, quiet)

	assert.Equal(t, 0, f.Poll(context.Background()))

	f.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, f.Poll(context.Background()))
	require.Len(t, poster.posts, 1)
	assert.Len(t, poster.posts[0].batch.Results, 2)
}

func TestPoll_ForwardsLateResults(t *testing.T) {
	ctx := context.Background()
	store := correlation.NewMemoryStore(time.Hour)
	defer store.Close(ctx)
	seed(t, store, "dr-1", ihe.DocumentRetrieval, 2, 1)

	poster := &fakePoster{}
	f := New(store, poster, &Config{MaxWait: time.Minute}, quiet)
	f.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assert.Equal(t, 1, f.Poll(ctx))
	require.Len(t, poster.posts, 1)
	assert.Len(t, poster.posts[0].batch.Results, 1)

	rec, err := store.Fetch(ctx, "dr-1")
	require.NoError(t, err, "incomplete record is kept for late results")
	assert.Equal(t, 1, rec.Forwarded)
	assert.Equal(t, ihe.DocumentRetrieval, rec.Transaction)
	assert.Empty(t, rec.Pending())

	assert.Equal(t, 0, f.Poll(ctx))
	assert.Len(t, poster.posts, 1)

	require.NoError(t, correlation.Add(ctx, store, "dr-1", map[string]string{"late": "yes"}))
	assert.Equal(t, 1, f.Poll(ctx))
	require.Len(t, poster.posts, 2)
	assert.Equal(t, "dr-1", poster.posts[1].batch.RequestID)
	require.Len(t, poster.posts[1].batch.Results, 1)
	assert.JSONEq(t, `{"late":"yes"}`, string(poster.posts[1].batch.Results[0]))

	_, err = store.Fetch(ctx, "dr-1")
	assert.ErrorIs(t, err, correlation.ErrNotFound)
}

func TestPoll_KeepsRecordWhenPostFails(t *testing.T) {
	store := correlation.NewMemoryStore(time.Hour)
	defer store.Close(context.Background())
	seed(t, store, "r1", ihe.DocumentRetrieval, 1, 1)

	poster := &fakePoster{err: errors.New("internal API down")}
	f := New(store, poster, nil, quiet)

	assert.Equal(t, 0, f.Poll(context.Background()))
	_, err := store.Fetch(context.Background(), "r1")
	require.NoError(t, err)

	poster.err = nil
	assert.Equal(t, 1, f.Poll(context.Background()))
	_, err = store.Fetch(context.Background(), "r1")
	assert.ErrorIs(t, err, correlation.ErrNotFound)
}

func TestPoll_DropsOrphanedResults(t *testing.T) {
	store := correlation.NewMemoryStore(time.Hour)
	defer store.Close(context.Background())
	require.NoError(t, correlation.Add(context.Background(), store, "orphan", "x"))

	poster := &fakePoster{}
	f := New(store, poster, &Config{MaxWait: time.Minute}, quiet)
	assert.Equal(t, 0, f.Poll(context.Background()))
	_, err := store.Fetch(context.Background(), "orphan")
	assert.NoError(t, err, "kept until max wait")

	f.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 0, f.Poll(context.Background()))
	assert.Empty(t, poster.posts)
	_, err = store.Fetch(context.Background(), "orphan")
	assert.ErrorIs(t, err, correlation.ErrNotFound)
}

func TestForwarder_StartStop(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/carequality/patient-discovery/results", r.URL.Path)
		calls.Add(1)
	}))
	defer server.Close()

	store := correlation.NewMemoryStore(time.Hour)
	defer store.Close(context.Background())
	seed(t, store, "pd-1", ihe.PatientDiscovery, 1, 1)

	f := New(store, api.NewClient(api.Config{BaseURL: server.URL}), &Config{PollInterval: 10 * time.Millisecond}, quiet)
	f.Start(context.Background())

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.Stop()

	_, err := store.Fetch(context.Background(), "pd-1")
	assert.ErrorIs(t, err, correlation.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}
