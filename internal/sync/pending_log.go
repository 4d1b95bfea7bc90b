package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/storage"
)

// Durable keys owned by the client engine
const (
	KeyPendingChanges = "sync:pending_changes"
	KeyLastSyncTime   = "sync:last_sync_time"
	KeySyncEnabled    = "sync:enabled"
	KeyDatasetPrefix  = "sync:dataset:"
)

// PendingLog is the ordered durable queue of mutations the server has not
// acknowledged. After every Append or Drain returns, the stored queue
// equals the in-memory one.
type PendingLog struct {
	mu      sync.Mutex
	store   storage.Store
	changes []models.PendingChange

	now   func() time.Time
	newID func() string
}

// NewPendingLog returns an empty log backed by store. Call Load to restore
// a previously persisted queue.
func NewPendingLog(store storage.Store) *PendingLog {
	return &PendingLog{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: newChangeID,
	}
}

// newChangeID is time-ordered with a random tail
func newChangeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Load replaces the in-memory queue with the persisted one. A missing key
// yields an empty queue.
func (l *PendingLog) Load(ctx context.Context) ([]models.PendingChange, error) {
	raw, found, err := l.store.Get(ctx, KeyPendingChanges)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending changes: %w", err)
	}

	var changes []models.PendingChange
	if found && len(raw) > 0 {
		if err := json.Unmarshal(raw, &changes); err != nil {
			return nil, fmt.Errorf("failed to decode pending changes: %w", err)
		}
	}

	l.mu.Lock()
	l.changes = changes
	l.mu.Unlock()

	return copyChanges(changes), nil
}

// Append queues a mutation of data. The queued copy carries version
// data.Version+1 and a fresh updated_at; a delete is queued as a tombstone.
func (l *PendingLog) Append(ctx context.Context, entity string, action models.Action, data models.Record) (models.PendingChange, error) {
	if !models.IsSyncableEntity(entity) {
		return models.PendingChange{}, fmt.Errorf("unknown entity %q", entity)
	}
	if !action.Valid() {
		return models.PendingChange{}, fmt.Errorf("unknown action %q", action)
	}
	if err := data.Validate(); err != nil {
		return models.PendingChange{}, err
	}

	now := l.now()
	rec := stampRecord(action, data, now)

	change := models.PendingChange{
		ID:        l.newID(),
		Entity:    entity,
		Action:    action,
		Data:      rec,
		Timestamp: now,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.changes = append(l.changes, change)
	if err := l.persistLocked(ctx); err != nil {
		l.changes = l.changes[:len(l.changes)-1]
		return models.PendingChange{}, err
	}

	out := change
	out.Data = change.Data.Clone()
	return out, nil
}

// Drain empties the queue
func (l *PendingLog) Drain(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.changes
	l.changes = nil
	if err := l.persistLocked(ctx); err != nil {
		l.changes = prev
		return err
	}
	return nil
}

// Acknowledge removes the changes with the given ids, the batch a push
// delivered. Entries appended after that batch was taken stay queued.
func (l *PendingLog) Acknowledge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.changes
	rest := make([]models.PendingChange, 0, len(prev))
	for _, c := range prev {
		if _, ok := acked[c.ID]; !ok {
			rest = append(rest, c)
		}
	}
	if len(rest) == len(prev) {
		return nil
	}

	l.changes = rest
	if err := l.persistLocked(ctx); err != nil {
		l.changes = prev
		return err
	}
	return nil
}

// Snapshot returns a copy of the queue in insertion order
func (l *PendingLog) Snapshot() []models.PendingChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyChanges(l.changes)
}

// Len returns the number of queued changes
func (l *PendingLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

func (l *PendingLog) persistLocked(ctx context.Context) error {
	changes := l.changes
	if changes == nil {
		changes = []models.PendingChange{}
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to encode pending changes: %w", err)
	}
	if err := l.store.Set(ctx, KeyPendingChanges, raw); err != nil {
		return fmt.Errorf("failed to persist pending changes: %w", err)
	}
	return nil
}

// stampRecord returns the copy of data a local mutation produces
func stampRecord(action models.Action, data models.Record, now time.Time) models.Record {
	rec := data.Clone()
	rec.Version = data.Version + 1
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if action == models.ActionDelete {
		rec.Deleted = true
	}
	return rec
}

// GroupByEntity batches changes into one record array per table, keeping
// the queue order within each table.
func GroupByEntity(changes []models.PendingChange) map[string][]models.Record {
	grouped := make(map[string][]models.Record)
	for _, c := range changes {
		grouped[c.Entity] = append(grouped[c.Entity], c.Data)
	}
	return grouped
}

func copyChanges(in []models.PendingChange) []models.PendingChange {
	out := make([]models.PendingChange, len(in))
	for i, c := range in {
		c.Data = c.Data.Clone()
		out[i] = c
	}
	return out
}
