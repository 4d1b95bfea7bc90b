package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/storage"
)

func property(id string, version int64, name string) models.Record {
	return models.Record{
		ID:       id,
		TenantID: "t1",
		Version:  version,
		Fields:   map[string]any{"name": name},
	}
}

func TestPendingLog_DurableAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	log := NewPendingLog(store)

	var ids []string
	for i := 0; i < 5; i++ {
		ch, err := log.Append(ctx, models.EntityProperties, models.ActionCreate, property(fmt.Sprintf("p%d", i), 0, "Villa"))
		require.NoError(t, err)
		ids = append(ids, ch.ID)
	}

	restarted := NewPendingLog(store)
	loaded, err := restarted.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 5)

	for i, ch := range loaded {
		assert.Equal(t, ids[i], ch.ID)
		assert.Equal(t, fmt.Sprintf("p%d", i), ch.Data.ID)
		assert.Equal(t, models.EntityProperties, ch.Entity)
	}
	assert.Equal(t, 5, restarted.Len())
}

func TestPendingLog_LoadMissingKeyIsEmpty(t *testing.T) {
	log := NewPendingLog(storage.NewMemoryStore())
	loaded, err := log.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPendingLog_LoadCorrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeyPendingChanges, []byte("{not json")))

	_, err := NewPendingLog(store).Load(ctx)
	assert.Error(t, err)
}

func TestPendingLog_Drain(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	log := NewPendingLog(store)

	// empty drain is a no-op
	require.NoError(t, log.Drain(ctx))
	assert.Equal(t, 0, log.Len())

	_, err := log.Append(ctx, models.EntityUnits, models.ActionCreate, property("u1", 0, "1A"))
	require.NoError(t, err)
	_, err = log.Append(ctx, models.EntityUnits, models.ActionUpdate, property("u1", 1, "1B"))
	require.NoError(t, err)

	require.NoError(t, log.Drain(ctx))
	assert.Equal(t, 0, log.Len())

	loaded, err := NewPendingLog(store).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPendingLog_AcknowledgeKeepsLaterAppends(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	log := NewPendingLog(store)

	for i := 0; i < 3; i++ {
		_, err := log.Append(ctx, models.EntityNotes, models.ActionCreate, property(fmt.Sprintf("n%d", i), 0, "note"))
		require.NoError(t, err)
	}
	pushed := log.Snapshot()

	_, err := log.Append(ctx, models.EntityNotes, models.ActionCreate, property("late", 0, "note"))
	require.NoError(t, err)

	ids := make([]string, 0, len(pushed))
	for _, ch := range pushed {
		ids = append(ids, ch.ID)
	}
	require.NoError(t, log.Acknowledge(ctx, ids))
	require.NoError(t, log.Acknowledge(ctx, ids), "acknowledging twice is harmless")

	remaining := log.Snapshot()
	require.Len(t, remaining, 1)
	assert.Equal(t, "late", remaining[0].Data.ID)

	loaded, err := NewPendingLog(store).Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "late", loaded[0].Data.ID)
}

func TestPendingLog_VersionMonotonic(t *testing.T) {
	ctx := context.Background()
	log := NewPendingLog(storage.NewMemoryStore())

	rec := property("p1", 0, "Villa")
	var prev int64 = -1
	for i := 0; i < 6; i++ {
		action := models.ActionUpdate
		if i == 0 {
			action = models.ActionCreate
		}
		rec.Set("name", fmt.Sprintf("Villa %d", i))
		ch, err := log.Append(ctx, models.EntityProperties, action, rec)
		require.NoError(t, err)

		assert.Greater(t, ch.Data.Version, prev)
		assert.Equal(t, rec.Version+1, ch.Data.Version)
		prev = ch.Data.Version
		rec = ch.Data
	}
	assert.Equal(t, int64(6), prev)
}

func TestPendingLog_AppendStampsRecord(t *testing.T) {
	ctx := context.Background()
	log := NewPendingLog(storage.NewMemoryStore())

	ch, err := log.Append(ctx, models.EntityLeases, models.ActionDelete, property("l1", 4, "lease"))
	require.NoError(t, err)

	assert.NotEmpty(t, ch.ID)
	assert.NotEqual(t, "l1", ch.ID)
	assert.Equal(t, int64(5), ch.Data.Version)
	assert.True(t, ch.Data.Deleted)
	assert.False(t, ch.Data.UpdatedAt.IsZero())
	assert.False(t, ch.Data.CreatedAt.IsZero())
}

func TestPendingLog_AppendValidates(t *testing.T) {
	ctx := context.Background()
	log := NewPendingLog(storage.NewMemoryStore())

	_, err := log.Append(ctx, "users", models.ActionCreate, property("x", 0, ""))
	assert.Error(t, err)

	_, err = log.Append(ctx, models.EntityUnits, models.Action("upsert"), property("x", 0, ""))
	assert.Error(t, err)

	_, err = log.Append(ctx, models.EntityUnits, models.ActionCreate, models.Record{})
	assert.Error(t, err)

	assert.Equal(t, 0, log.Len())
}

func TestPendingLog_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: storage.NewMemoryStore()}
	log := NewPendingLog(store)

	_, err := log.Append(ctx, models.EntityUnits, models.ActionCreate, property("u1", 0, "1A"))
	require.NoError(t, err)

	store.failSets = true
	_, err = log.Append(ctx, models.EntityUnits, models.ActionCreate, property("u2", 0, "2A"))
	require.Error(t, err)
	assert.Equal(t, 1, log.Len())

	err = log.Drain(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, log.Len())

	store.failSets = false
	loaded, err := NewPendingLog(store).Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "u1", loaded[0].Data.ID)
}

func TestGroupByEntity_PreservesOrder(t *testing.T) {
	changes := []models.PendingChange{
		{Entity: models.EntityProperties, Data: property("p1", 1, "a")},
		{Entity: models.EntityUnits, Data: property("u1", 1, "b")},
		{Entity: models.EntityProperties, Data: property("p1", 2, "c")},
		{Entity: models.EntityProperties, Data: property("p2", 1, "d")},
	}

	grouped := GroupByEntity(changes)
	require.Len(t, grouped, 2)

	props := grouped[models.EntityProperties]
	require.Len(t, props, 3)
	assert.Equal(t, int64(1), props[0].Version)
	assert.Equal(t, int64(2), props[1].Version)
	assert.Equal(t, "p2", props[2].ID)
	assert.Len(t, grouped[models.EntityUnits], 1)
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails writes on demand
type flakyStore struct {
	storage.Store
	failSets bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSets {
		return errStoreDown
	}
	return s.Store.Set(ctx, key, value)
}
