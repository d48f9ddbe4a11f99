package history

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdonaldj/sitedrop/internal/session"
)

func sampleRecord(id string, finished time.Time) Record {
	return Record{
		ID:       id,
		SiteID:   "site-" + id,
		SiteName: "name-" + id,
		DeployID: id,
		URL:      "https://" + id + ".example.app",
		Status:   session.StatusReady,
		Files:    3,
		Required: 1,
		Uploaded: 1,
		Bytes:    42,
		Transitions: []session.Transition{
			{From: session.StatusNone, To: session.StatusCreated, At: finished.Add(-time.Second)},
			{From: session.StatusUploading, To: session.StatusReady, At: finished},
		},
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
	}
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	store, err := NewRedisStore("redis://"+srv.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

// storeContract runs the behavior every Store must have.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, sampleRecord("d1", now.Add(-time.Minute))))
	require.NoError(t, store.Save(ctx, sampleRecord("d2", now)))
	require.Error(t, store.Save(ctx, Record{}))

	got, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "site-d1", got.SiteID)
	assert.Equal(t, session.StatusReady, got.Status)
	assert.Len(t, got.Transitions, 2)
	assert.True(t, got.FinishedAt.Equal(now.Add(-time.Minute)))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d2", recent[0].ID)
	assert.Equal(t, "d1", recent[1].ID)

	recent, err = store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "d2", recent[0].ID)

	// Saving the same ID again replaces the record.
	updated := sampleRecord("d1", now.Add(time.Minute))
	updated.Status = session.StatusFailed
	require.NoError(t, store.Save(ctx, updated))
	got, err = store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)

	recent, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d1", recent[0].ID)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(10))
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, sampleRecord(id, now.Add(time.Duration(i)*time.Second))))
	}
	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	recent, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	storeContract(t, store)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, srv := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecord("d1", time.Now())))
	srv.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestNewRedisStoreErrors(t *testing.T) {
	_, err := NewRedisStore("not a url", time.Minute)
	assert.Error(t, err)

	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	addr := srv.Addr()
	srv.Close()
	_, err = NewRedisStore("redis://"+addr, time.Minute)
	assert.Error(t, err)
}
