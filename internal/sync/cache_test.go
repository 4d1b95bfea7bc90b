package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/storage"
)

func TestLocalCache_ReplaceAndReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := NewLocalCache(store)

	ds := models.NewDataset(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	ds.Tables[models.EntityProperties] = []models.Record{property("p1", 3, "Villa")}
	require.NoError(t, cache.Replace(ctx, "t1", ds))

	reopened := NewLocalCache(store)
	got, err := reopened.Dataset(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got.Tables[models.EntityProperties], 1)
	assert.Equal(t, int64(3), got.Tables[models.EntityProperties][0].Version)
	assert.True(t, got.SyncTime.Equal(ds.SyncTime))

	other, err := reopened.Dataset(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Count())
}

func TestLocalCache_ApplyUpsertAndTombstone(t *testing.T) {
	ctx := context.Background()
	cache := NewLocalCache(storage.NewMemoryStore())

	require.NoError(t, cache.Apply(ctx, "t1", models.EntityUnits, property("u1", 1, "1A")))
	require.NoError(t, cache.Apply(ctx, "t1", models.EntityUnits, property("u2", 1, "2A")))
	require.NoError(t, cache.Apply(ctx, "t1", models.EntityUnits, property("u1", 2, "1A renovated")))

	recs, err := cache.Records(ctx, "t1", models.EntityUnits)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].Version)
	name, _ := recs[0].Get("name")
	assert.Equal(t, "1A renovated", name)

	gone := property("u2", 2, "2A")
	gone.Deleted = true
	require.NoError(t, cache.Apply(ctx, "t1", models.EntityUnits, gone))

	recs, err = cache.Records(ctx, "t1", models.EntityUnits)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "u1", recs[0].ID)
}

func TestLocalCache_Clear(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := NewLocalCache(store)

	require.NoError(t, cache.Apply(ctx, "t1", models.EntityNotes, property("n1", 1, "x")))
	require.NoError(t, cache.Clear(ctx, "t1"))

	_, found, err := store.Get(ctx, datasetKey("t1"))
	require.NoError(t, err)
	assert.False(t, found)

	recs, err := cache.Records(ctx, "t1", models.EntityNotes)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
