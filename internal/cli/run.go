package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	syncer "github.com/xelth-com/rentsync/internal/sync"
)

// NewRunCommand keeps the client running in the foreground: connectivity
// probes, reconnect syncs, scheduled syncs and realtime pulls.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "run",
		Short:        "Run the background sync loop until interrupted",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the loop has no other output
			runOpts := *opts
			runOpts.Verbose = true

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := openClient(ctx, &runOpts)
			if err != nil {
				return err
			}
			defer c.close()

			return runLoop(ctx, c)
		},
	}
}

func runLoop(ctx context.Context, c *client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := c.cfg.Sync
	log := c.logger

	c.monitor.Start(ctx)

	if cfg.RealtimeEnabled {
		listener, err := syncer.NewRealtimeListener(cfg.ServerURL, c.clientID, c.coordinator, log)
		if err != nil {
			return err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			listener.Run(ctx)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	if cfg.AutoSyncEnabled && cfg.AutoSyncSchedule != "" {
		sched := syncer.NewScheduler(log, ctx)
		if _, err := sched.AddAutoSync(cfg.AutoSyncSchedule, c.coordinator); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.SyncOnStartup {
		c.coordinator.TriggerSync()
	}

	log.Info("sync client running",
		zap.String("server", cfg.ServerURL),
		zap.String("tenant", c.coordinator.TenantID()),
		zap.String("clientId", c.clientID),
		zap.Bool("realtime", cfg.RealtimeEnabled),
		zap.Bool("autoSync", cfg.AutoSyncEnabled))

	<-ctx.Done()
	log.Info("shutting down sync client")
	c.coordinator.Wait()
	return nil
}
