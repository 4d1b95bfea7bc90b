package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/storage"
)

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil, context.Background())
	_, err := s.Add("every five minutes", func(context.Context) {})
	assert.Error(t, err)
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(nil, context.Background())

	var runs atomic.Int32
	_, err := s.Add("@every 1s", func(context.Context) { runs.Add(1) })
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_AutoSync(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	network := newFakeNetwork(false)
	c := newTestCoordinator(t, storage.NewMemoryStore(), remote, network)
	c.SetTenantID("t1")

	_, err := c.AddPendingChange(ctx, models.EntityProperties, models.ActionCreate, villa())
	require.NoError(t, err)
	network.online.Store(true)

	s := NewScheduler(nil, ctx)
	_, err = s.AddAutoSync("@every 1s", c)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return c.PendingChangesCount() == 0 }, 3*time.Second, 20*time.Millisecond)
	c.Wait()
	push, _ := remote.calls()
	assert.GreaterOrEqual(t, push, 1)
}
