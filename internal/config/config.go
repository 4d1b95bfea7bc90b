package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RENTSYNC_SERVER_PORT
const EnvPrefix = "RENTSYNC"

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Env string `mapstructure:"env"`
}

// ServerConfig holds configuration of the reconciliation server
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	FallbackEnabled bool   `mapstructure:"fallback_enabled"` // serve from memory when the database is down
	HistoryLimit    int    `mapstructure:"history_limit"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Database   string `mapstructure:"database"`
	LogQueries bool   `mapstructure:"log_queries"`
}

// Embedded reports whether Connect should start a bundled PostgreSQL
// instead of dialing an external one.
func (d DatabaseConfig) Embedded() bool {
	return d.Host == "localhost" && d.Password == ""
}

// LogConfig holds zap logger configuration
type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"` // json, console
	Output            string `mapstructure:"output"`   // stdout, stderr or a file path
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// Load reads configuration from defaults, an optional config file and the
// environment. A .env file in the working directory is loaded first if it exists.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Sync.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")

	v.SetDefault("server.port", "3001")
	v.SetDefault("server.fallback_enabled", true)
	v.SetDefault("server.history_limit", 50)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "rentsync")
	v.SetDefault("database.log_queries", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	setSyncDefaults(v)
}
