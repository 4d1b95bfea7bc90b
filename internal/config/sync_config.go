package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Local store backends a client can persist its queue in
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// SyncConfig holds client-side synchronization configuration
type SyncConfig struct {
	ServerURL string `mapstructure:"server_url"`
	TenantID  string `mapstructure:"tenant_id"`

	// ============ LOCAL STORE ============
	Store StoreConfig `mapstructure:"store"`

	// ============ RETRY ============
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`

	// ============ TIMING ============
	SyncTimeout    time.Duration `mapstructure:"sync_timeout"`    // whole run, push and pull
	SuccessDisplay time.Duration `mapstructure:"success_display"` // how long "success" stays before "idle"
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`

	// ============ SCHEDULING ============
	AutoSyncEnabled  bool   `mapstructure:"auto_sync_enabled"`
	AutoSyncSchedule string `mapstructure:"auto_sync_schedule"` // cron format with seconds
	SyncOnStartup    bool   `mapstructure:"sync_on_startup"`

	// ============ REALTIME ============
	RealtimeEnabled bool `mapstructure:"realtime_enabled"`
}

// StoreConfig selects and configures the client durable store
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// Validate rejects settings the client cannot start with
func (c SyncConfig) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown sync store backend %q", c.Store.Backend)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("sync.retry_base_delay must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("sync.retry_max_delay must be at least retry_base_delay")
	}
	return nil
}

func setSyncDefaults(v *viper.Viper) {
	v.SetDefault("sync.server_url", "http://localhost:3001")
	v.SetDefault("sync.tenant_id", "")

	v.SetDefault("sync.store.backend", StoreSQLite)
	v.SetDefault("sync.store.sqlite_path", "./rentsync_client.db")
	v.SetDefault("sync.store.redis_addr", "localhost:6379")
	v.SetDefault("sync.store.redis_password", "")
	v.SetDefault("sync.store.redis_db", 0)
	v.SetDefault("sync.store.key_prefix", "")

	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_base_delay", "1s")
	v.SetDefault("sync.retry_max_delay", "30s")

	v.SetDefault("sync.sync_timeout", "2m")
	v.SetDefault("sync.success_display", "3s")
	v.SetDefault("sync.probe_interval", "15s")
	v.SetDefault("sync.probe_timeout", "5s")

	v.SetDefault("sync.auto_sync_enabled", true)
	v.SetDefault("sync.auto_sync_schedule", "@every 5m")
	v.SetDefault("sync.sync_on_startup", true)

	v.SetDefault("sync.realtime_enabled", true)
}
