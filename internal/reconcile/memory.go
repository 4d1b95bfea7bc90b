package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xelth-com/rentsync/internal/models"
)

// MemoryStore keeps every table in process memory. Nothing survives a
// restart; the server only uses it while the database is unreachable.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]models.Record
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]models.Record),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Snapshot returns the tenant's live records ordered by creation time
func (m *MemoryStore) Snapshot(ctx context.Context, tenantID string) (map[string][]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]models.Record, len(models.SyncableEntities))
	for _, entity := range models.SyncableEntities {
		recs := []models.Record{}
		for _, rec := range m.tables[entity] {
			if rec.TenantID == tenantID && !rec.Deleted {
				recs = append(recs, rec.Clone())
			}
		}
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
				return recs[i].ID < recs[j].ID
			}
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		})
		out[entity] = recs
	}
	return out, nil
}

func (m *MemoryStore) Merge(ctx context.Context, tenantID, entity string, rec models.Record) (models.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.tables[entity]
	if table == nil {
		table = make(map[string]models.Record)
		m.tables[entity] = table
	}

	existing, found := table[rec.ID]
	if !found {
		row := prepare(rec, tenantID, m.now(), true)
		table[rec.ID] = row
		return accepted(entity, row.ID, row.Version), nil
	}
	if existing.TenantID != tenantID {
		return failed(entity, rec.ID, "record belongs to another tenant"), nil
	}
	if !Accept(existing.Version, rec.Version) {
		return rejected(entity, rec.ID, existing.Version), nil
	}

	row := prepare(rec, tenantID, m.now(), false)
	if !existing.CreatedAt.IsZero() {
		row.CreatedAt = existing.CreatedAt
	}
	table[rec.ID] = row
	return accepted(entity, row.ID, row.Version), nil
}
