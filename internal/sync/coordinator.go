package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/xelth-com/rentsync/internal/errors"
	"github.com/xelth-com/rentsync/internal/models"
	"github.com/xelth-com/rentsync/internal/storage"
)

// Status is the coordinator's state machine position
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Reasons a sync request returns without touching the network
var (
	ErrSyncDisabled   = apperrors.New(apperrors.ErrSyncDisabled, "sync is disabled")
	ErrSyncInProgress = apperrors.New(apperrors.ErrSyncFailed, "a sync is already in progress")
	ErrOffline        = apperrors.New(apperrors.ErrSyncOffline, "client is offline")
	ErrNoTenant       = apperrors.New(apperrors.ErrTenantRequired, "no tenant selected")
)

// NetworkStatus is the part of the Network Monitor the coordinator uses
type NetworkStatus interface {
	IsOnline() bool
	OnChange(fn func(online bool))
}

// Deps are the collaborators a Coordinator is built from
type Deps struct {
	Store   storage.Store
	Remote  Remote
	Network NetworkStatus
	Logger  *zap.Logger
}

// Options tune timing and retry behaviour
type Options struct {
	Retry          RetryOptions
	SyncTimeout    time.Duration // deadline for one whole run, 0 = none
	SuccessDisplay time.Duration // time in "success" before reverting to "idle"
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		Retry:          DefaultRetryOptions(),
		SyncTimeout:    2 * time.Minute,
		SuccessDisplay: 3 * time.Second,
	}
}

// State is a point-in-time copy of every observable
type State struct {
	Status         Status              `json:"status"`
	IsOnline       bool                `json:"isOnline"`
	LastSyncTime   *time.Time          `json:"lastSyncTime"`
	PendingChanges int                 `json:"pendingChanges"`
	SyncEnabled    bool                `json:"syncEnabled"`
	TenantID       string              `json:"currentTenantId,omitempty"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
	LastPushReport []models.ItemResult `json:"lastPushReport,omitempty"`
}

// Coordinator owns the client sync state machine. It runs at most one
// sync at a time and always pushes queued changes before pulling.
type Coordinator struct {
	mu sync.Mutex

	log     *PendingLog
	cache   *LocalCache
	store   storage.Store
	remote  Remote
	network NetworkStatus
	logger  *zap.Logger
	opts    Options

	// State
	status         Status
	errorMessage   string
	lastSyncTime   *time.Time
	syncEnabled    bool
	tenantID       string
	syncInProgress bool
	lastPushReport []models.ItemResult

	successTimer *time.Timer
	successGen   uint64

	subscribers map[int]func(State)
	nextSubID   int

	// background runs started by mutations and reconnects
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewCoordinator restores the persisted queue, last sync time and enabled
// flag, and subscribes to network transitions.
func NewCoordinator(ctx context.Context, deps Deps, opts Options) (*Coordinator, error) {
	if deps.Store == nil || deps.Remote == nil || deps.Network == nil {
		return nil, fmt.Errorf("coordinator needs a store, a remote and a network monitor")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.SuccessDisplay <= 0 {
		opts.SuccessDisplay = 3 * time.Second
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		log:         NewPendingLog(deps.Store),
		cache:       NewLocalCache(deps.Store),
		store:       deps.Store,
		remote:      deps.Remote,
		network:     deps.Network,
		logger:      deps.Logger.Named("sync"),
		opts:        opts,
		status:      StatusIdle,
		syncEnabled: true,
		subscribers: make(map[int]func(State)),
		baseCtx:     baseCtx,
		cancel:      cancel,
	}

	pending, err := c.log.Load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	if raw, found, err := c.store.Get(ctx, KeyLastSyncTime); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	} else if found && len(raw) > 0 {
		ts, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			c.logger.Warn("ignoring unreadable last sync time", zap.String("value", string(raw)), zap.Error(err))
		} else {
			ts = ts.UTC()
			c.lastSyncTime = &ts
		}
	}

	if raw, found, err := c.store.Get(ctx, KeySyncEnabled); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to read sync enabled flag: %w", err)
	} else if found {
		enabled, err := strconv.ParseBool(string(raw))
		if err != nil {
			c.logger.Warn("ignoring unreadable sync enabled flag", zap.String("value", string(raw)))
		} else {
			c.syncEnabled = enabled
		}
	}

	c.network.OnChange(c.onNetworkChange)

	c.logger.Info("sync coordinator ready",
		zap.Int("pending", len(pending)),
		zap.Bool("enabled", c.syncEnabled),
		zap.Bool("online", c.network.IsOnline()),
	)
	return c, nil
}

// AddPendingChange is the single mutation entry point. The change is always
// applied to the local cache; it is queued only while sync is enabled, and
// then a background sync starts if the client is online with a tenant set.
// The returned change is nil when nothing was queued.
func (c *Coordinator) AddPendingChange(ctx context.Context, entity string, action models.Action, data models.Record) (*models.PendingChange, error) {
	c.mu.Lock()
	enabled := c.syncEnabled
	tenant := c.tenantID
	c.mu.Unlock()

	if data.TenantID == "" {
		data.TenantID = tenant
	}
	// a tenantless change would be adopted by whichever tenant syncs next
	if enabled && data.TenantID == "" {
		return nil, ErrNoTenant
	}

	var (
		queued *models.PendingChange
		local  models.Record
	)
	if enabled {
		change, err := c.log.Append(ctx, entity, action, data)
		if err != nil {
			return nil, err
		}
		queued = &change
		local = change.Data
	} else {
		if !models.IsSyncableEntity(entity) {
			return nil, apperrors.New(apperrors.ErrUnknownEntity, fmt.Sprintf("unknown entity %q", entity))
		}
		if !action.Valid() {
			return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown action %q", action))
		}
		if err := data.Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid record", err)
		}
		local = stampRecord(action, data, time.Now().UTC())
	}

	if local.TenantID != "" {
		if err := c.cache.Apply(ctx, local.TenantID, entity, local); err != nil {
			c.logger.Error("failed to apply change to local cache",
				zap.String("entity", entity), zap.String("id", local.ID), zap.Error(err))
		}
	}

	if queued == nil {
		return nil, nil
	}

	c.logger.Debug("change queued",
		zap.String("entity", entity),
		zap.String("action", string(action)),
		zap.String("id", local.ID),
		zap.Int64("version", local.Version),
	)
	c.notify()

	if tenant != "" && c.network.IsOnline() {
		c.triggerAsync(tenant)
	}
	return queued, nil
}

// SyncNow pushes the queued changes for tenantID (or the current tenant)
// and then pulls the full dataset. It returns ErrSyncDisabled or
// ErrSyncInProgress without changing state, and ErrOffline after moving
// to "offline" without any network call.
func (c *Coordinator) SyncNow(ctx context.Context, tenantID string) error {
	tenantID, err := c.begin(tenantID)
	if err != nil {
		return err
	}
	defer c.end()

	runCtx, cancel := c.runContext(ctx)
	defer cancel()

	start := time.Now()
	c.logger.Info("sync started", zap.String("tenant", tenantID))

	if err := c.push(runCtx, tenantID); err != nil {
		c.fail(tenantID, "push", err)
		return err
	}
	if err := c.pull(runCtx, tenantID); err != nil {
		c.fail(tenantID, "pull", err)
		return err
	}

	c.succeed(tenantID, time.Since(start))
	return nil
}

// PullFromServer refreshes the local cache without pushing
func (c *Coordinator) PullFromServer(ctx context.Context, tenantID string) error {
	tenantID, err := c.begin(tenantID)
	if err != nil {
		return err
	}
	defer c.end()

	runCtx, cancel := c.runContext(ctx)
	defer cancel()

	start := time.Now()
	if err := c.pull(runCtx, tenantID); err != nil {
		c.fail(tenantID, "pull", err)
		return err
	}

	c.succeed(tenantID, time.Since(start))
	return nil
}

// begin runs the guards and takes the single-flight flag
func (c *Coordinator) begin(tenantID string) (string, error) {
	c.mu.Lock()

	if tenantID == "" {
		tenantID = c.tenantID
	}
	if tenantID == "" {
		c.mu.Unlock()
		return "", ErrNoTenant
	}
	if !c.syncEnabled {
		c.mu.Unlock()
		return "", ErrSyncDisabled
	}
	if c.syncInProgress {
		c.mu.Unlock()
		c.logger.Debug("sync already in progress, dropping request")
		return "", ErrSyncInProgress
	}
	if !c.network.IsOnline() {
		c.setStatusLocked(StatusOffline)
		c.mu.Unlock()
		c.notify()
		return "", ErrOffline
	}

	c.syncInProgress = true
	c.errorMessage = ""
	c.setStatusLocked(StatusSyncing)
	c.mu.Unlock()

	c.notify()
	return tenantID, nil
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.syncInProgress = false
	c.mu.Unlock()
}

func (c *Coordinator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.SyncTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.SyncTimeout)
	}
	return context.WithCancel(ctx)
}

// push sends the tenant's queued changes as one batch and removes exactly
// that batch once the server answers.
func (c *Coordinator) push(ctx context.Context, tenantID string) error {
	var batch []models.PendingChange
	for _, ch := range c.log.Snapshot() {
		if ch.Data.TenantID == tenantID {
			batch = append(batch, ch)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	grouped := GroupByEntity(batch)
	result, err := WithRetry(ctx, c.logger, "pushChanges", c.opts.Retry, func(ctx context.Context) (models.PushResult, error) {
		return c.remote.PushChanges(ctx, tenantID, grouped)
	})
	if err != nil {
		return err
	}

	ids := make([]string, len(batch))
	for i, ch := range batch {
		ids[i] = ch.ID
	}
	if err := c.log.Acknowledge(ctx, ids); err != nil {
		return err
	}

	accepted, rejected, failed := result.Counts()
	c.logger.Info("push acknowledged",
		zap.String("tenant", tenantID),
		zap.Int("changes", len(batch)),
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected),
		zap.Int("failed", failed),
	)
	for _, r := range result.Results {
		switch r.Status {
		case models.ItemRejected:
			c.logger.Warn("local edit lost to a newer server version",
				zap.String("entity", r.Entity), zap.String("id", r.ID), zap.Int64("server_version", r.StoredVersion))
		case models.ItemFailed:
			c.logger.Error("server refused change",
				zap.String("entity", r.Entity), zap.String("id", r.ID), zap.String("error", r.Error))
		}
	}

	c.mu.Lock()
	c.lastPushReport = result.Results
	c.mu.Unlock()
	c.notify()
	return nil
}

// pull replaces the cached dataset with the server snapshot and re-applies
// whatever is still queued on top of it.
func (c *Coordinator) pull(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	since := c.lastSyncTime
	c.mu.Unlock()

	ds, err := WithRetry(ctx, c.logger, "getAllData", c.opts.Retry, func(ctx context.Context) (models.Dataset, error) {
		return c.remote.GetAllData(ctx, tenantID, since)
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := c.store.Set(ctx, KeyLastSyncTime, []byte(now.Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("failed to persist last sync time: %w", err)
	}
	c.mu.Lock()
	c.lastSyncTime = &now
	c.mu.Unlock()

	if err := c.cache.Replace(ctx, tenantID, ds); err != nil {
		return err
	}
	for _, ch := range c.log.Snapshot() {
		if ch.Data.TenantID != tenantID {
			continue
		}
		if err := c.cache.Apply(ctx, tenantID, ch.Entity, ch.Data); err != nil {
			return err
		}
	}

	c.logger.Info("pull complete", zap.String("tenant", tenantID), zap.Int("records", ds.Count()))
	return nil
}

func (c *Coordinator) fail(tenantID, phase string, err error) {
	c.mu.Lock()
	c.errorMessage = err.Error()
	c.setStatusLocked(StatusError)
	c.mu.Unlock()

	c.logger.Error("sync failed",
		zap.String("tenant", tenantID),
		zap.String("phase", phase),
		zap.Int("pending", c.log.Len()),
		zap.Error(err),
	)
	c.notify()
}

func (c *Coordinator) succeed(tenantID string, took time.Duration) {
	c.mu.Lock()
	c.setStatusLocked(StatusSuccess)
	c.successGen++
	gen := c.successGen
	if !c.closed {
		c.successTimer = time.AfterFunc(c.opts.SuccessDisplay, func() {
			c.mu.Lock()
			if c.status != StatusSuccess || c.successGen != gen {
				c.mu.Unlock()
				return
			}
			c.setStatusLocked(StatusIdle)
			c.mu.Unlock()
			c.notify()
		})
	}
	c.mu.Unlock()

	c.logger.Info("sync complete", zap.String("tenant", tenantID), zap.Duration("took", took))
	c.notify()
}

// setStatusLocked moves the state machine; any pending success->idle
// revert is cancelled. c.mu must be held.
func (c *Coordinator) setStatusLocked(s Status) {
	if c.successTimer != nil {
		c.successTimer.Stop()
		c.successTimer = nil
	}
	c.status = s
}

func (c *Coordinator) onNetworkChange(online bool) {
	c.notify()
	if !online {
		return
	}

	c.mu.Lock()
	enabled := c.syncEnabled
	tenant := c.tenantID
	c.mu.Unlock()

	if enabled && tenant != "" && c.log.Len() > 0 {
		c.logger.Info("back online with queued changes, syncing", zap.String("tenant", tenant))
		c.triggerAsync(tenant)
	}
}

// TriggerSync starts a background sync for the current tenant, if any
func (c *Coordinator) TriggerSync() {
	c.mu.Lock()
	tenant := c.tenantID
	c.mu.Unlock()
	if tenant != "" {
		c.triggerAsync(tenant)
	}
}

// TriggerPull starts a background pull for the current tenant, if any
func (c *Coordinator) TriggerPull() {
	c.mu.Lock()
	tenant := c.tenantID
	closed := c.closed
	if !closed && tenant != "" {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	if closed || tenant == "" {
		return
	}

	go func() {
		defer c.wg.Done()
		if err := c.PullFromServer(c.baseCtx, tenant); err != nil {
			c.logger.Debug("background pull skipped", zap.Error(err))
		}
	}()
}

func (c *Coordinator) triggerAsync(tenantID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.SyncNow(c.baseCtx, tenantID); err != nil {
			c.logger.Debug("background sync did not complete", zap.Error(err))
		}
	}()
}

// SetSyncEnabled toggles queueing and syncing and persists the flag
func (c *Coordinator) SetSyncEnabled(ctx context.Context, enabled bool) error {
	if err := c.store.Set(ctx, KeySyncEnabled, []byte(strconv.FormatBool(enabled))); err != nil {
		return fmt.Errorf("failed to persist sync enabled flag: %w", err)
	}
	c.mu.Lock()
	c.syncEnabled = enabled
	c.mu.Unlock()

	c.logger.Info("sync enabled flag changed", zap.Bool("enabled", enabled))
	c.notify()
	return nil
}

// SetTenantID selects the tenant sync operates against; "" means logged out
func (c *Coordinator) SetTenantID(tenantID string) {
	c.mu.Lock()
	c.tenantID = tenantID
	c.mu.Unlock()
	c.notify()
}

// Logout clears the tenant and resets the visible state. Queued changes
// stay on disk for the next login.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	c.tenantID = ""
	c.errorMessage = ""
	c.lastPushReport = nil
	c.setStatusLocked(StatusIdle)
	c.mu.Unlock()
	c.notify()
}

// DiscardPending drops every queued change. It is the manual way out when
// the server keeps refusing a batch.
func (c *Coordinator) DiscardPending(ctx context.Context) error {
	n := c.log.Len()
	if err := c.log.Drain(ctx); err != nil {
		return err
	}
	c.logger.Warn("pending changes discarded", zap.Int("count", n))
	c.notify()
	return nil
}

// Records returns the cached records of one table for the current tenant
func (c *Coordinator) Records(ctx context.Context, entity string) ([]models.Record, error) {
	c.mu.Lock()
	tenant := c.tenantID
	c.mu.Unlock()
	if tenant == "" {
		return nil, ErrNoTenant
	}
	return c.cache.Records(ctx, tenant, entity)
}

// Status returns the current state machine position
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsOnline mirrors the network monitor
func (c *Coordinator) IsOnline() bool {
	return c.network.IsOnline()
}

// LastSyncTime returns the time of the last successful pull, or nil
func (c *Coordinator) LastSyncTime() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSyncTime == nil {
		return nil
	}
	ts := *c.lastSyncTime
	return &ts
}

// PendingChangesCount returns the queue length
func (c *Coordinator) PendingChangesCount() int {
	return c.log.Len()
}

// PendingChanges returns a copy of the queue
func (c *Coordinator) PendingChanges() []models.PendingChange {
	return c.log.Snapshot()
}

// ErrorMessage returns the message of the last failed run
func (c *Coordinator) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMessage
}

// LastPushReport returns the per-record results of the last push
func (c *Coordinator) LastPushReport() []models.ItemResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ItemResult, len(c.lastPushReport))
	copy(out, c.lastPushReport)
	return out
}

// SyncEnabled reports the user toggle
func (c *Coordinator) SyncEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncEnabled
}

// TenantID returns the current tenant, "" when logged out
func (c *Coordinator) TenantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenantID
}

// Snapshot returns all observables at once
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	s := State{
		Status:         c.status,
		IsOnline:       c.network.IsOnline(),
		PendingChanges: c.log.Len(),
		SyncEnabled:    c.syncEnabled,
		TenantID:       c.tenantID,
		ErrorMessage:   c.errorMessage,
	}
	if c.lastSyncTime != nil {
		ts := *c.lastSyncTime
		s.LastSyncTime = &ts
	}
	if len(c.lastPushReport) > 0 {
		s.LastPushReport = make([]models.ItemResult, len(c.lastPushReport))
		copy(s.LastPushReport, c.lastPushReport)
	}
	return s
}

// Subscribe registers fn to receive the state after every change. Calls
// happen outside the coordinator lock, possibly from background goroutines.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	if len(c.subscribers) == 0 {
		c.mu.Unlock()
		return
	}
	state := c.stateLocked()
	subs := make([]func(State), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Wait blocks until every background sync started so far has finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels background runs, waits for them and stops the success timer
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.successTimer != nil {
		c.successTimer.Stop()
		c.successTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
