package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/rentsync/internal/models"
)

type countingPuller struct {
	tenant atomic.Value
	pulls  atomic.Int32
}

func (p *countingPuller) TriggerPull() { p.pulls.Add(1) }

func (p *countingPuller) TenantID() string {
	s, _ := p.tenant.Load().(string)
	return s
}

func TestWebsocketURL(t *testing.T) {
	u, err := WebsocketURL("http://localhost:3001/")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3001/ws", u)

	u, err = WebsocketURL("https://sync.example.com/api")
	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.com/api/ws", u)

	_, err = WebsocketURL("ftp://example.com")
	assert.Error(t, err)
}

func TestRealtimeListener_PullsOnForeignChange(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotTenant := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant <- r.URL.Query().Get("tenantId")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		now := time.Now().UTC()
		events := []models.SyncEvent{
			{Type: "PING_APP", TenantID: "t1"},
			{Type: models.EventSyncChanged, TenantID: "t2", SyncTime: now},
			{Type: models.EventSyncChanged, TenantID: "t1", SyncTime: now, ClientID: "me"},
			{Type: models.EventSyncChanged, TenantID: "t1", SyncTime: now, ClientID: "other", Accepted: 2},
		}
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	puller := &countingPuller{}
	puller.tenant.Store("t1")

	l, err := NewRealtimeListener(srv.URL, "me", puller, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(l.wsURL, "ws://"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	assert.Equal(t, "t1", <-gotTenant)
	assert.Eventually(t, func() bool { return puller.pulls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Equal(t, int32(1), puller.pulls.Load())
}

func TestRealtimeListener_IdleWithoutTenant(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
	}))
	defer srv.Close()

	l, err := NewRealtimeListener(srv.URL, "", &countingPuller{}, nil)
	require.NoError(t, err)
	l.retry.BaseDelay = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	assert.Zero(t, dials.Load())
}
