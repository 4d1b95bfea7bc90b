package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/xelth-com/rentsync/internal/errors"
	"github.com/xelth-com/rentsync/internal/logging"
	"github.com/xelth-com/rentsync/internal/models"
)

const pingTimeout = 2 * time.Second

// Notifier fans a message out to every subscriber of a tenant
type Notifier interface {
	BroadcastToTenant(tenantID string, message interface{}) int
}

// Options configure a Service
type Options struct {
	Primary         Store        // nil runs memory-only
	History         HistoryStore // nil disables history
	Notifier        Notifier
	FallbackEnabled bool
	Logger          *zap.Logger
}

// PushRequest is one client batch
type PushRequest struct {
	TenantID string
	ClientID string
	Changes  map[string][]models.Record
}

// StoreStatus describes which store is serving requests
type StoreStatus struct {
	Store           string `json:"store"`
	Degraded        bool   `json:"degraded"`
	FallbackEnabled bool   `json:"fallbackEnabled"`
}

// Service is the reconciliation endpoint. It prefers the primary store and
// switches to an in-process memory store while the primary is unreachable.
type Service struct {
	primary  Store
	fallback *MemoryStore
	history  HistoryStore
	notifier Notifier
	logger   *zap.Logger

	fallbackEnabled bool

	mu       sync.Mutex
	degraded bool
}

func NewService(opts Options) *Service {
	logger := logging.OrNop(opts.Logger)
	s := &Service{
		primary:         opts.Primary,
		fallback:        NewMemoryStore(),
		history:         opts.History,
		notifier:        opts.Notifier,
		logger:          logger.Named("reconcile"),
		fallbackEnabled: opts.FallbackEnabled || opts.Primary == nil,
	}
	if s.primary == nil {
		s.logger.Warn("no database configured, serving from memory; data will not survive a restart")
		s.degraded = true
	}
	return s
}

// store picks the store for one request and logs degrade/restore transitions
func (s *Service) store(ctx context.Context) (Store, error) {
	if s.primary == nil {
		return s.fallback, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := s.primary.Ping(pingCtx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		if s.degraded {
			s.logger.Info("database reachable again, leaving memory fallback",
				zap.String("store", s.primary.Name()))
			s.degraded = false
		}
		return s.primary, nil
	}

	if !s.fallbackEnabled {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, "database unavailable", err)
	}
	if !s.degraded {
		s.logger.Warn("database unreachable, serving from memory fallback; writes will not survive a restart",
			zap.String("store", s.primary.Name()), zap.Error(err))
		s.degraded = true
	}
	return s.fallback, nil
}

// Status reports the store the next request would use
func (s *Service) Status(ctx context.Context) StoreStatus {
	st, err := s.store(ctx)
	if err != nil {
		return StoreStatus{Store: "unavailable", Degraded: true, FallbackEnabled: s.fallbackEnabled}
	}
	return StoreStatus{
		Store:           st.Name(),
		Degraded:        st != s.primary,
		FallbackEnabled: s.fallbackEnabled,
	}
}

// GetAllData returns every live record of the tenant. lastSyncTime is
// accepted and ignored: every pull is a full snapshot.
func (s *Service) GetAllData(ctx context.Context, tenantID string, lastSyncTime *time.Time) (models.Dataset, error) {
	if tenantID == "" {
		return models.Dataset{}, apperrors.New(apperrors.ErrTenantRequired, "tenantId is required")
	}
	st, err := s.store(ctx)
	if err != nil {
		return models.Dataset{}, err
	}

	tables, err := st.Snapshot(ctx, tenantID)
	if err != nil {
		return models.Dataset{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read dataset", err)
	}

	ds := models.NewDataset(time.Now().UTC())
	for entity, recs := range tables {
		ds.Tables[entity] = recs
	}

	s.logger.Debug("dataset served",
		zap.String("tenant", tenantID),
		zap.String("store", st.Name()),
		zap.Int("records", ds.Count()),
	)
	return ds, nil
}

// PushChanges merges the batch record by record. Malformed records are
// reported as failed and skipped; a store error aborts the request.
func (s *Service) PushChanges(ctx context.Context, req PushRequest) (models.PushResult, error) {
	if req.TenantID == "" {
		return models.PushResult{}, apperrors.New(apperrors.ErrTenantRequired, "tenantId is required")
	}
	st, err := s.store(ctx)
	if err != nil {
		return models.PushResult{}, err
	}

	started := time.Now().UTC()
	results := make([]models.ItemResult, 0)
	var mergeErr error

merge:
	for _, entity := range orderedEntities(req.Changes) {
		recs := req.Changes[entity]
		if !models.IsSyncableEntity(entity) {
			for _, rec := range recs {
				results = append(results, failed(entity, rec.ID, fmt.Sprintf("unknown table %q", entity)))
			}
			s.logger.Warn("push for unknown table", zap.String("tenant", req.TenantID), zap.String("entity", entity))
			continue
		}

		for _, rec := range recs {
			if reason := checkRecord(rec, req.TenantID); reason != "" {
				results = append(results, failed(entity, rec.ID, reason))
				s.logger.Warn("malformed record skipped",
					zap.String("tenant", req.TenantID),
					zap.String("entity", entity),
					zap.String("id", rec.ID),
					zap.String("reason", reason),
				)
				continue
			}

			res, err := st.Merge(ctx, req.TenantID, entity, rec)
			if err != nil {
				mergeErr = err
				break merge
			}
			if res.Status == models.ItemRejected {
				s.logger.Info("stale write dropped",
					zap.String("tenant", req.TenantID),
					zap.String("entity", entity),
					zap.String("id", rec.ID),
					zap.Int64("incoming_version", rec.Version),
					zap.Int64("stored_version", res.StoredVersion),
				)
			}
			results = append(results, res)
		}
	}

	result := models.PushResult{Success: mergeErr == nil, SyncTime: time.Now().UTC(), Results: results}
	s.recordHistory(ctx, st, req, started, result, mergeErr)

	if mergeErr != nil {
		s.logger.Error("push aborted", zap.String("tenant", req.TenantID), zap.Error(mergeErr))
		return models.PushResult{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to apply changes", mergeErr)
	}

	acc, rej, fail := result.Counts()
	s.logger.Info("push applied",
		zap.String("tenant", req.TenantID),
		zap.String("client", req.ClientID),
		zap.String("store", st.Name()),
		zap.Int("accepted", acc),
		zap.Int("rejected", rej),
		zap.Int("failed", fail),
	)

	if acc > 0 && s.notifier != nil {
		s.notifier.BroadcastToTenant(req.TenantID, models.SyncEvent{
			Type:     models.EventSyncChanged,
			TenantID: req.TenantID,
			SyncTime: result.SyncTime,
			Accepted: acc,
			ClientID: req.ClientID,
		})
	}
	return result, nil
}

// History lists recent pushes for a tenant
func (s *Service) History(ctx context.Context, tenantID string, limit int) ([]models.SyncHistory, error) {
	if tenantID == "" {
		return nil, apperrors.New(apperrors.ErrTenantRequired, "tenantId is required")
	}
	if s.history == nil {
		return []models.SyncHistory{}, nil
	}
	return s.history.List(ctx, tenantID, limit)
}

// recordHistory only writes while the primary store is serving
func (s *Service) recordHistory(ctx context.Context, st Store, req PushRequest, started time.Time, result models.PushResult, mergeErr error) {
	if s.history == nil || st != s.primary {
		return
	}

	acc, rej, fail := result.Counts()
	completed := time.Now().UTC()
	entry := &models.SyncHistory{
		TenantID:    req.TenantID,
		ClientID:    req.ClientID,
		Store:       st.Name(),
		Status:      "success",
		StartedAt:   started,
		CompletedAt: &completed,
		Duration:    int(completed.Sub(started).Milliseconds()),
		Accepted:    acc,
		Rejected:    rej,
		Failed:      fail,
	}
	switch {
	case mergeErr != nil:
		entry.Status = "error"
		entry.ErrorDetail = mergeErr.Error()
	case rej > 0 || fail > 0:
		entry.Status = "partial"
	}

	if err := s.history.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record sync history", zap.Error(err))
	}
}

// checkRecord returns why a record cannot be merged, or "". An empty
// tenant_id adopts the request tenant.
func checkRecord(rec models.Record, tenantID string) string {
	if err := rec.Validate(); err != nil {
		return err.Error()
	}
	if rec.TenantID != "" && rec.TenantID != tenantID {
		return fmt.Sprintf("tenant_id %q does not match request tenant", rec.TenantID)
	}
	return ""
}

// orderedEntities returns known tables in migration order, then unknown keys sorted
func orderedEntities(changes map[string][]models.Record) []string {
	out := make([]string, 0, len(changes))
	for _, entity := range models.SyncableEntities {
		if len(changes[entity]) > 0 {
			out = append(out, entity)
		}
	}
	var unknown []string
	for entity, recs := range changes {
		if !models.IsSyncableEntity(entity) && len(recs) > 0 {
			unknown = append(unknown, entity)
		}
	}
	sort.Strings(unknown)
	return append(out, unknown...)
}
