package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/reconcile"
	"github.com/xelth-com/rentsync/internal/storage"
	syncer "github.com/xelth-com/rentsync/internal/sync"
	"github.com/xelth-com/rentsync/internal/websocket"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	hub := websocket.NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return NewRouter(reconcile.NewService(reconcile.Options{Notifier: hub}), hub, nil, 10)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := do(t, newTestRouter(t), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["store"])
	assert.Equal(t, "dev", body["commitHash"])
	assert.NotEmpty(t, body["startTime"])
}

func TestPushThenGetAllData(t *testing.T) {
	r := newTestRouter(t)

	rr := do(t, r, http.MethodPost, "/api/sync/pushChanges", map[string]interface{}{
		"tenantId": "t1",
		"changes": map[string]interface{}{
			"properties": []map[string]interface{}{
				{"id": "p1", "tenant_id": "t1", "version": 1, "name": "Villa", "rent": 1200.5},
			},
			"units": []interface{}{},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var push models.PushResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &push))
	assert.True(t, push.Success)
	assert.False(t, push.SyncTime.IsZero())
	require.Len(t, push.Results, 1)
	assert.Equal(t, models.ItemAccepted, push.Results[0].Status)

	rr = do(t, r, http.MethodPost, "/api/sync/getAllData", map[string]interface{}{"tenantId": "t1", "lastSyncTime": "2024-01-01T00:00:00Z"})
	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	for _, table := range models.SyncableEntities {
		assert.Contains(t, raw, table)
	}
	assert.Contains(t, raw, "syncTime")

	var ds models.Dataset
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ds))
	require.Len(t, ds.Tables[models.EntityProperties], 1)
	p := ds.Tables[models.EntityProperties][0]
	assert.Equal(t, "Villa", p.Fields["name"])
	assert.Equal(t, json.Number("1200.5"), p.Fields["rent"])
	assert.Empty(t, ds.Tables[models.EntityUnits])
}

func TestSyncErrors(t *testing.T) {
	r := newTestRouter(t)

	rr := do(t, r, http.MethodPost, "/api/sync/getAllData", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var er models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &er))
	assert.Equal(t, "TENANT_REQUIRED", er.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/pushChanges", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rr = do(t, r, http.MethodGet, "/api/sync/history/t1?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusAndHistory(t *testing.T) {
	r := newTestRouter(t)

	rr := do(t, r, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st reconcile.StoreStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "memory", st.Store)
	assert.True(t, st.Degraded)

	rr = do(t, r, http.MethodGet, "/api/sync/history/t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"tenantId":"t1","count":0,"history":[]}`, rr.Body.String())
}

// alwaysOnline satisfies the coordinator's network dependency
type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool      { return true }
func (alwaysOnline) OnChange(func(bool)) {}

func newClient(t *testing.T, serverURL string) *syncer.Coordinator {
	t.Helper()
	opts := syncer.DefaultOptions()
	opts.Retry = syncer.RetryOptions{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	opts.SuccessDisplay = 10 * time.Millisecond

	c, err := syncer.NewCoordinator(context.Background(), syncer.Deps{
		Store:   storage.NewMemoryStore(),
		Remote:  syncer.NewHTTPRemote(serverURL, nil),
		Network: alwaysOnline{},
	}, opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// Two clients edit the same record from the same base version; the later
// push wins the tie and both converge after pulling.
func TestTwoClientsConverge(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(newTestRouter(t))
	defer srv.Close()

	a := newClient(t, srv.URL)
	b := newClient(t, srv.URL)

	// seed r1 at version 2 on the server and in both caches
	a.SetTenantID("t1")
	_, err := a.AddPendingChange(ctx, models.EntityProperties, models.ActionUpdate, models.Record{ID: "r1", TenantID: "t1", Version: 1, Fields: map[string]any{"name": "base"}})
	require.NoError(t, err)
	a.Wait()
	require.NoError(t, a.SyncNow(ctx, "t1"))

	b.SetTenantID("t1")
	require.NoError(t, b.PullFromServer(ctx, "t1"))

	baseA, err := a.Records(ctx, models.EntityProperties)
	require.NoError(t, err)
	require.Len(t, baseA, 1)
	require.Equal(t, int64(2), baseA[0].Version)

	editA := baseA[0].Clone()
	editA.Set("name", "from A")
	_, err = a.AddPendingChange(ctx, models.EntityProperties, models.ActionUpdate, editA)
	require.NoError(t, err)
	a.Wait()
	require.NoError(t, a.SyncNow(ctx, "t1"))

	baseB, err := b.Records(ctx, models.EntityProperties)
	require.NoError(t, err)
	editB := baseB[0].Clone()
	editB.Set("name", "from B")
	_, err = b.AddPendingChange(ctx, models.EntityProperties, models.ActionUpdate, editB)
	require.NoError(t, err)
	b.Wait()
	require.NoError(t, b.SyncNow(ctx, "t1"))

	require.NoError(t, a.PullFromServer(ctx, "t1"))
	for _, c := range []*syncer.Coordinator{a, b} {
		recs, err := c.Records(ctx, models.EntityProperties)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(3), recs[0].Version)
		assert.Equal(t, "from B", recs[0].Fields["name"])
		assert.Equal(t, 0, c.PendingChangesCount())
	}
}
