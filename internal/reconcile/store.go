// Package reconcile is the server side of synchronization: it merges pushed
// batches into the authoritative store with last-writer-wins by version and
// serves full tenant snapshots.
package reconcile

import (
	"context"
	"time"

	"github.com/xelth-com/rentsync/internal/models"
)

// Store is an authoritative record store. Merge applies one record with the
// LWW rule and reports the outcome; it returns an error only when the store
// itself failed.
type Store interface {
	Name() string
	Ping(ctx context.Context) error
	Snapshot(ctx context.Context, tenantID string) (map[string][]models.Record, error)
	Merge(ctx context.Context, tenantID, entity string, rec models.Record) (models.ItemResult, error)
}

// Accept reports whether an incoming version overwrites the stored one.
// Ties go to the incoming write, so the later push wins.
func Accept(stored, incoming int64) bool {
	return stored <= incoming
}

// prepare fills the server-owned fields of a record about to be written.
// The client already incremented the version; an insert is floored at 1.
func prepare(rec models.Record, tenantID string, now time.Time, insert bool) models.Record {
	out := rec.Clone()
	out.TenantID = tenantID
	if insert && out.Version < 1 {
		out.Version = 1
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out
}

func accepted(entity, id string, stored int64) models.ItemResult {
	return models.ItemResult{Entity: entity, ID: id, Status: models.ItemAccepted, StoredVersion: stored}
}

func rejected(entity, id string, stored int64) models.ItemResult {
	return models.ItemResult{Entity: entity, ID: id, Status: models.ItemRejected, StoredVersion: stored}
}

func failed(entity, id, reason string) models.ItemResult {
	return models.ItemResult{Entity: entity, ID: id, Status: models.ItemFailed, Error: reason}
}
