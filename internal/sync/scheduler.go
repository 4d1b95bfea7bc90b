package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic background syncs on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// NewScheduler accepts six-field specs (with seconds) and descriptors
// like "@every 5m".
func NewScheduler(logger *zap.Logger, baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.Named("scheduler"),
		baseCtx: baseCtx,
	}
}

// Add registers job under spec
func (s *Scheduler) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		if s.baseCtx.Err() != nil {
			return
		}
		job(s.baseCtx)
	})
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return id, nil
}

// AddAutoSync schedules a background sync for the coordinator's current tenant
func (s *Scheduler) AddAutoSync(spec string, c *Coordinator) (cron.EntryID, error) {
	return s.Add(spec, func(context.Context) {
		s.logger.Debug("scheduled sync", zap.Int("pending", c.PendingChangesCount()))
		c.TriggerSync()
	})
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for running jobs to return
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
