package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/storage"
)

// LocalCache is the client's read model: the last pulled snapshot per
// tenant with local edits applied on top.
type LocalCache struct {
	mu       sync.RWMutex
	store    storage.Store
	datasets map[string]models.Dataset
}

func NewLocalCache(store storage.Store) *LocalCache {
	return &LocalCache{
		store:    store,
		datasets: make(map[string]models.Dataset),
	}
}

func datasetKey(tenantID string) string {
	return KeyDatasetPrefix + tenantID
}

// Replace swaps the tenant's dataset for a freshly pulled one
func (c *LocalCache) Replace(ctx context.Context, tenantID string, ds models.Dataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx, tenantID, ds)
}

// Apply writes one local mutation into the cached dataset. Tombstones
// remove the record.
func (c *LocalCache) Apply(ctx context.Context, tenantID, entity string, rec models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds, err := c.loadLocked(ctx, tenantID)
	if err != nil {
		return err
	}

	recs := ds.Tables[entity]
	next := make([]models.Record, 0, len(recs)+1)
	replaced := false
	for _, r := range recs {
		if r.ID == rec.ID {
			replaced = true
			if !rec.Deleted {
				next = append(next, rec.Clone())
			}
			continue
		}
		next = append(next, r)
	}
	if !replaced && !rec.Deleted {
		next = append(next, rec.Clone())
	}

	tables := make(map[string][]models.Record, len(ds.Tables)+1)
	for k, v := range ds.Tables {
		tables[k] = v
	}
	tables[entity] = next

	return c.saveLocked(ctx, tenantID, models.Dataset{Tables: tables, SyncTime: ds.SyncTime})
}

// Dataset returns the cached dataset for a tenant, empty if none was stored
func (c *LocalCache) Dataset(ctx context.Context, tenantID string) (models.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, tenantID)
}

// Records returns the cached records of one table
func (c *LocalCache) Records(ctx context.Context, tenantID, entity string) ([]models.Record, error) {
	ds, err := c.Dataset(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, len(ds.Tables[entity]))
	copy(out, ds.Tables[entity])
	return out, nil
}

// Clear forgets the tenant's dataset, in memory and on disk
func (c *LocalCache) Clear(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.datasets, tenantID)
	if err := c.store.Delete(ctx, datasetKey(tenantID)); err != nil {
		return fmt.Errorf("failed to clear cached dataset: %w", err)
	}
	return nil
}

func (c *LocalCache) loadLocked(ctx context.Context, tenantID string) (models.Dataset, error) {
	if ds, ok := c.datasets[tenantID]; ok {
		return ds, nil
	}

	raw, found, err := c.store.Get(ctx, datasetKey(tenantID))
	if err != nil {
		return models.Dataset{}, fmt.Errorf("failed to read cached dataset: %w", err)
	}
	if !found {
		return models.Dataset{Tables: map[string][]models.Record{}}, nil
	}

	var ds models.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return models.Dataset{}, fmt.Errorf("failed to decode cached dataset: %w", err)
	}
	c.datasets[tenantID] = ds
	return ds, nil
}

func (c *LocalCache) saveLocked(ctx context.Context, tenantID string, ds models.Dataset) error {
	if ds.Tables == nil {
		ds.Tables = map[string][]models.Record{}
	}
	raw, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	if err := c.store.Set(ctx, datasetKey(tenantID), raw); err != nil {
		return fmt.Errorf("failed to persist dataset: %w", err)
	}
	c.datasets[tenantID] = ds
	return nil
}
