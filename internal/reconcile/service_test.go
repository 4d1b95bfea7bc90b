package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xelth-com/rentsync/internal/errors"
	"github.com/xelth-com/rentsync/internal/models"
)

func rec(id, tenant string, version int64, name string) models.Record {
	return models.Record{ID: id, TenantID: tenant, Version: version, Fields: map[string]any{"name": name}}
}

func push(t *testing.T, s *Service, tenant, entity string, recs ...models.Record) models.PushResult {
	t.Helper()
	res, err := s.PushChanges(context.Background(), PushRequest{TenantID: tenant, Changes: map[string][]models.Record{entity: recs}})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func stored(t *testing.T, s *Service, tenant, entity, id string) (models.Record, bool) {
	t.Helper()
	ds, err := s.GetAllData(context.Background(), tenant, nil)
	require.NoError(t, err)
	for _, r := range ds.Tables[entity] {
		if r.ID == id {
			return r, true
		}
	}
	return models.Record{}, false
}

func TestAccept(t *testing.T) {
	assert.True(t, Accept(5, 7))
	assert.True(t, Accept(3, 3))
	assert.False(t, Accept(5, 3))
}

func TestService_LastWriterWinsByVersion(t *testing.T) {
	s := NewService(Options{})

	push(t, s, "t1", models.EntityProperties, rec("p1", "t1", 5, "five"))

	res := push(t, s, "t1", models.EntityProperties, rec("p1", "t1", 3, "three"))
	require.Len(t, res.Results, 1)
	assert.Equal(t, models.ItemRejected, res.Results[0].Status)
	assert.Equal(t, int64(5), res.Results[0].StoredVersion)

	r, ok := stored(t, s, "t1", models.EntityProperties, "p1")
	require.True(t, ok)
	assert.Equal(t, int64(5), r.Version)
	assert.Equal(t, "five", r.Fields["name"])

	res = push(t, s, "t1", models.EntityProperties, rec("p1", "t1", 7, "seven"))
	assert.Equal(t, models.ItemAccepted, res.Results[0].Status)

	r, _ = stored(t, s, "t1", models.EntityProperties, "p1")
	assert.Equal(t, int64(7), r.Version)
	assert.Equal(t, "seven", r.Fields["name"])
}

// A client that crashed before acknowledging its push sends the same batch
// again; the replay must leave the stored row as it was.
func TestService_ReplayedBatchIsHarmless(t *testing.T) {
	s := NewService(Options{})
	batch := []models.Record{rec("p1", "t1", 1, "a"), rec("p1", "t1", 2, "b")}

	push(t, s, "t1", models.EntityProperties, batch...)
	res := push(t, s, "t1", models.EntityProperties, batch...)
	for _, r := range res.Results {
		assert.NotEqual(t, models.ItemFailed, r.Status)
	}
	r, _ := stored(t, s, "t1", models.EntityProperties, "p1")
	assert.Equal(t, int64(2), r.Version)
	assert.Equal(t, "b", r.Fields["name"])

	push(t, s, "t1", models.EntityProperties, rec("p1", "t1", 3, "c"))

	// stale replay after a newer write
	res = push(t, s, "t1", models.EntityProperties, batch...)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.Equal(t, models.ItemRejected, r.Status)
		assert.Equal(t, int64(3), r.StoredVersion)
	}

	r, _ = stored(t, s, "t1", models.EntityProperties, "p1")
	assert.Equal(t, int64(3), r.Version)
	assert.Equal(t, "c", r.Fields["name"])

	ds, err := s.GetAllData(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Len(t, ds.Tables[models.EntityProperties], 1)
}

func TestService_ConflictFollowsVersionOrder(t *testing.T) {
	s := NewService(Options{})
	push(t, s, "t1", models.EntityUnits, rec("r1", "t1", 2, "original"))

	// both clients edited from version 2; B pushes last and wins the tie
	push(t, s, "t1", models.EntityUnits, rec("r1", "t1", 3, "from A"))
	res := push(t, s, "t1", models.EntityUnits, rec("r1", "t1", 3, "from B"))
	assert.Equal(t, models.ItemAccepted, res.Results[0].Status)

	r, _ := stored(t, s, "t1", models.EntityUnits, "r1")
	assert.Equal(t, int64(3), r.Version)
	assert.Equal(t, "from B", r.Fields["name"])

	// a client that accumulated more edits wins even if it pushes first
	push(t, s, "t1", models.EntityUnits, rec("r1", "t1", 5, "from C"))
	res = push(t, s, "t1", models.EntityUnits, rec("r1", "t1", 4, "from D"))
	assert.Equal(t, models.ItemRejected, res.Results[0].Status)

	r, _ = stored(t, s, "t1", models.EntityUnits, "r1")
	assert.Equal(t, "from C", r.Fields["name"])
}

func TestService_InsertFloorsVersion(t *testing.T) {
	s := NewService(Options{})
	res := push(t, s, "t1", models.EntityNotes, rec("n1", "", 0, "hello"))
	assert.Equal(t, int64(1), res.Results[0].StoredVersion)

	r, ok := stored(t, s, "t1", models.EntityNotes, "n1")
	require.True(t, ok)
	assert.Equal(t, "t1", r.TenantID, "empty tenant adopts the request tenant")
	assert.Equal(t, int64(1), r.Version)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestService_TombstonesAreHidden(t *testing.T) {
	s := NewService(Options{})
	push(t, s, "t1", models.EntityLeases, rec("l1", "t1", 1, "lease"))

	gone := rec("l1", "t1", 2, "lease")
	gone.Deleted = true
	push(t, s, "t1", models.EntityLeases, gone)

	_, ok := stored(t, s, "t1", models.EntityLeases, "l1")
	assert.False(t, ok)

	// an older write cannot resurrect it
	res := push(t, s, "t1", models.EntityLeases, rec("l1", "t1", 1, "lease"))
	assert.Equal(t, models.ItemRejected, res.Results[0].Status)
}

func TestService_PerItemFailures(t *testing.T) {
	s := NewService(Options{})
	res, err := s.PushChanges(context.Background(), PushRequest{
		TenantID: "t1",
		Changes: map[string][]models.Record{
			models.EntityProperties: {
				rec("", "t1", 1, "no id"),
				rec("p2", "t2", 1, "foreign"),
				rec("p3", "t1", -1, "negative"),
				rec("p4", "t1", 1, "fine"),
			},
			"users":                {rec("u1", "t1", 1, "unknown table")},
			models.EntityPayments:  {},
			models.EntityDocuments: {rec("d1", "t1", 1, "fine")},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	acc, rej, fail := res.Counts()
	assert.Equal(t, 2, acc)
	assert.Equal(t, 0, rej)
	assert.Equal(t, 4, fail)

	// known tables first in migration order, unknown ones last
	assert.Equal(t, models.EntityProperties, res.Results[0].Entity)
	assert.Equal(t, "users", res.Results[len(res.Results)-1].Entity)

	_, ok := stored(t, s, "t1", models.EntityProperties, "p4")
	assert.True(t, ok)
}

func TestService_TenantIsolation(t *testing.T) {
	s := NewService(Options{})
	push(t, s, "t1", models.EntityProperties, rec("p1", "t1", 1, "mine"))

	// same id from another tenant never overwrites
	res := push(t, s, "t2", models.EntityProperties, rec("p1", "t2", 9, "theirs"))
	assert.Equal(t, models.ItemFailed, res.Results[0].Status)

	ds, err := s.GetAllData(context.Background(), "t2", nil)
	require.NoError(t, err)
	assert.Zero(t, ds.Count())
	assert.Len(t, ds.Tables, len(models.SyncableEntities))

	r, _ := stored(t, s, "t1", models.EntityProperties, "p1")
	assert.Equal(t, "mine", r.Fields["name"])
}

func TestService_TenantRequired(t *testing.T) {
	s := NewService(Options{})
	_, err := s.GetAllData(context.Background(), "", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrTenantRequired))

	_, err = s.PushChanges(context.Background(), PushRequest{})
	assert.True(t, apperrors.Is(err, apperrors.ErrTenantRequired))
}

// downStore is a primary whose ping fails until healed
type downStore struct {
	*MemoryStore
	mu   sync.Mutex
	down bool
	fail error // returned by Merge when set
}

func (d *downStore) Name() string { return "postgres" }

func (d *downStore) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return errors.New("connection refused")
	}
	return nil
}

func (d *downStore) Merge(ctx context.Context, tenantID, entity string, r models.Record) (models.ItemResult, error) {
	if d.fail != nil {
		return models.ItemResult{}, d.fail
	}
	return d.MemoryStore.Merge(ctx, tenantID, entity, r)
}

func (d *downStore) setDown(v bool) {
	d.mu.Lock()
	d.down = v
	d.mu.Unlock()
}

type memHistory struct {
	mu      sync.Mutex
	entries []models.SyncHistory
}

func (h *memHistory) Record(ctx context.Context, e *models.SyncHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, *e)
	return nil
}

func (h *memHistory) List(ctx context.Context, tenantID string, limit int) ([]models.SyncHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.SyncHistory
	for _, e := range h.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SyncEvent
}

func (n *recordingNotifier) BroadcastToTenant(tenantID string, message interface{}) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, message.(models.SyncEvent))
	return 1
}

func TestService_FallsBackWhenPrimaryDown(t *testing.T) {
	primary := &downStore{MemoryStore: NewMemoryStore()}
	history := &memHistory{}
	s := NewService(Options{Primary: primary, History: history, FallbackEnabled: true})

	push(t, s, "t1", models.EntityProperties, rec("p1", "t1", 1, "durable"))
	assert.Equal(t, StoreStatus{Store: "postgres", FallbackEnabled: true}, s.Status(context.Background()))

	primary.setDown(true)
	push(t, s, "t1", models.EntityProperties, rec("p2", "t1", 1, "ephemeral"))

	st := s.Status(context.Background())
	assert.Equal(t, "memory", st.Store)
	assert.True(t, st.Degraded)

	_, ok := stored(t, s, "t1", models.EntityProperties, "p2")
	assert.True(t, ok)
	_, ok = stored(t, s, "t1", models.EntityProperties, "p1")
	assert.False(t, ok, "fallback does not see primary data")

	primary.setDown(false)
	_, ok = stored(t, s, "t1", models.EntityProperties, "p1")
	assert.True(t, ok)

	entries, err := s.History(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only pushes served by the primary are recorded")
	assert.Equal(t, "success", entries[0].Status)
}

func TestService_NoFallbackSurfacesOutage(t *testing.T) {
	primary := &downStore{MemoryStore: NewMemoryStore(), down: true}
	s := NewService(Options{Primary: primary})

	_, err := s.GetAllData(context.Background(), "t1", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, "unavailable", s.Status(context.Background()).Store)
}

func TestService_StoreErrorFailsRequest(t *testing.T) {
	primary := &downStore{MemoryStore: NewMemoryStore(), fail: errors.New("deadlock detected")}
	history := &memHistory{}
	s := NewService(Options{Primary: primary, History: history})

	_, err := s.PushChanges(context.Background(), PushRequest{
		TenantID: "t1",
		Changes:  map[string][]models.Record{models.EntityUnits: {rec("u1", "t1", 1, "1A")}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatabase))

	require.Len(t, history.entries, 1)
	assert.Equal(t, "error", history.entries[0].Status)
	assert.Contains(t, history.entries[0].ErrorDetail, "deadlock")
}

func TestService_BroadcastsAcceptedPush(t *testing.T) {
	notifier := &recordingNotifier{}
	s := NewService(Options{Notifier: notifier})

	_, err := s.PushChanges(context.Background(), PushRequest{
		TenantID: "t1",
		ClientID: "phone",
		Changes:  map[string][]models.Record{models.EntityUnits: {rec("u1", "t1", 1, "1A")}},
	})
	require.NoError(t, err)

	// nothing accepted, nothing announced
	_, err = s.PushChanges(context.Background(), PushRequest{
		TenantID: "t1",
		Changes:  map[string][]models.Record{models.EntityUnits: {rec("u1", "t1", 0, "stale")}},
	})
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, models.EventSyncChanged, ev.Type)
	assert.Equal(t, "t1", ev.TenantID)
	assert.Equal(t, "phone", ev.ClientID)
	assert.Equal(t, 1, ev.Accepted)
}
