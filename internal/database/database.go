package database

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/rentsync/internal/config"
)

const (
	embeddedDataPath = "./db_data"
	embeddedPort     = 5433
	embeddedPassword = "postgres"
)

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	logger   *zap.Logger
}

// cleanupStaleEmbedded removes a postmaster.pid left by a crashed run and
// stops the orphaned process if it is still alive.
func cleanupStaleEmbedded(log *zap.Logger) {
	pidFile := filepath.Join(embeddedDataPath, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return
	}

	// first line of postmaster.pid is the PID
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		log.Warn("could not parse postmaster.pid", zap.Error(err))
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		log.Info("removing stale postmaster.pid", zap.Int("pid", pid))
		os.Remove(pidFile)
		return
	}

	// signal 0 checks liveness on Unix
	if err := process.Signal(syscall.Signal(0)); err != nil {
		log.Info("removing stale postmaster.pid", zap.Int("pid", pid))
		os.Remove(pidFile)
		return
	}

	log.Warn("found orphaned postgres process, stopping it", zap.Int("pid", pid))
	if err := process.Signal(syscall.SIGTERM); err != nil {
		log.Warn("could not send SIGTERM", zap.Int("pid", pid), zap.Error(err))
	}

	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			log.Info("orphaned postgres process stopped", zap.Int("pid", pid))
			os.Remove(pidFile)
			return
		}
	}

	log.Warn("orphaned postgres did not stop, killing it", zap.Int("pid", pid))
	process.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// DSN builds the postgres connection string
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database,
	)
}

// Connect opens PostgreSQL. With host localhost and no password it starts
// an embedded instance first.
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("database")

	var embedded *embeddedpostgres.EmbeddedPostgres
	if cfg.Embedded() {
		log.Info("starting embedded postgres", zap.String("data", embeddedDataPath), zap.Int("port", embeddedPort))
		cleanupStaleEmbedded(log)

		if isPortInUse(embeddedPort) {
			log.Warn("embedded port still in use, waiting for release", zap.Int("port", embeddedPort))
			for i := 0; i < 6 && isPortInUse(embeddedPort); i++ {
				time.Sleep(500 * time.Millisecond)
			}
			if isPortInUse(embeddedPort) {
				return nil, fmt.Errorf("port %d is still in use by another process", embeddedPort)
			}
		}

		embedded = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
			DataPath(embeddedDataPath).
			Port(uint32(embeddedPort)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password(embeddedPassword))

		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		cfg.Port = strconv.Itoa(embeddedPort)
		cfg.Password = embeddedPassword
	} else {
		log.Info("connecting to external postgres", zap.String("host", cfg.Host), zap.String("port", cfg.Port))
	}

	logLevel := logger.Silent
	if cfg.LogQueries {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("database connection established", zap.String("database", cfg.Database))
	return &DB{DB: db, embedded: embedded, logger: log}, nil
}

// Close shuts down the connection pool and the embedded process, if any
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if db.embedded != nil {
		db.logger.Info("stopping embedded postgres")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}
