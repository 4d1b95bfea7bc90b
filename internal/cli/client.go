package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xelth-com/rentsync/internal/config"
	"github.com/xelth-com/rentsync/internal/logging"
	"github.com/xelth-com/rentsync/internal/storage"
	syncer "github.com/xelth-com/rentsync/internal/sync"
)

const keyClientID = "sync:client_id"

// client is everything one command needs, built from configuration
type client struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       storage.Store
	monitor     *syncer.Monitor
	coordinator *syncer.Coordinator
	clientID    string
}

// openClient loads config, opens the local store and restores the
// coordinator. The caller must call close.
func openClient(ctx context.Context, opts *RootOptions) (*client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.ServerURL != "" {
		cfg.Sync.ServerURL = opts.ServerURL
	}
	if opts.TenantID != "" {
		cfg.Sync.TenantID = opts.TenantID
	}

	logger := zap.NewNop()
	if opts.Verbose {
		cfg.Log.Output = "stderr"
		if logger, err = logging.New(cfg.Log); err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}

	store, err := storage.Open(cfg.Sync.Store)
	if err != nil {
		return nil, err
	}

	clientID, err := loadClientID(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	remote := syncer.NewHTTPRemote(cfg.Sync.ServerURL, syncer.NewHTTPClient(cfg.Sync.SyncTimeout))
	remote.SetClientID(clientID)

	monitor := syncer.NewMonitor(logger, syncer.MonitorOptions{
		HealthURL:     syncer.HealthURL(cfg.Sync.ServerURL),
		ProbeInterval: cfg.Sync.ProbeInterval,
		ProbeTimeout:  cfg.Sync.ProbeTimeout,
	})

	coordinator, err := syncer.NewCoordinator(ctx, syncer.Deps{
		Store:   store,
		Remote:  remote,
		Network: monitor,
		Logger:  logger,
	}, syncer.Options{
		Retry: syncer.RetryOptions{
			MaxRetries: cfg.Sync.MaxRetries,
			BaseDelay:  cfg.Sync.RetryBaseDelay,
			MaxDelay:   cfg.Sync.RetryMaxDelay,
		},
		SyncTimeout:    cfg.Sync.SyncTimeout,
		SuccessDisplay: cfg.Sync.SuccessDisplay,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	coordinator.SetTenantID(cfg.Sync.TenantID)

	return &client{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		monitor:     monitor,
		coordinator: coordinator,
		clientID:    clientID,
	}, nil
}

// probe refreshes the online flag once, for one-shot commands
func (c *client) probe(ctx context.Context) {
	c.monitor.Report(c.monitor.Probe(ctx))
}

func (c *client) close() {
	c.monitor.Stop()
	c.coordinator.Close()
	if err := c.store.Close(); err != nil {
		c.logger.Warn("failed to close local store", zap.Error(err))
	}
	c.logger.Sync()
}

// loadClientID returns this installation's id, creating it on first use
func loadClientID(ctx context.Context, store storage.Store) (string, error) {
	raw, found, err := store.Get(ctx, keyClientID)
	if err != nil {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}
	if found && len(raw) > 0 {
		return string(raw), nil
	}
	id := uuid.NewString()
	if err := store.Set(ctx, keyClientID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	return id, nil
}
