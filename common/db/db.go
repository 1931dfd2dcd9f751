package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/capstack/origination/common/backoff"
	"github.com/capstack/origination/common/clock"
	"github.com/capstack/origination/common/config"
	"github.com/capstack/origination/common/logger"
)

// DB wraps pgxpool with common operations
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// bootPingPolicy gives Postgres time to come up when it and the
// service start together.
var bootPingPolicy = backoff.Policy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    3 * time.Second,
}

// New creates a new database connection pool and waits until the
// database answers.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	// Per-statement logging is too loud for anything above debug
	if cfg.Service.LogLevel == "debug" {
		poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   &queryTracer{log: log},
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	err = backoff.Retry(ctx, clock.New(), bootPingPolicy, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected", "host", cfg.Database.Host, "db", cfg.Database.Database)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	stat := db.Pool.Stat()
	db.log.Info("closing database connection pool",
		"total_conns", stat.TotalConns(),
		"acquired_conns", stat.AcquiredConns(),
	)
	db.Pool.Close()
}

// Health checks database health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return db.Pool.Ping(ctx)
}

// queryTracer forwards pgx statement traces to the service logger
type queryTracer struct {
	log *logger.Logger
}

func (t *queryTracer) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	args := make([]any, 0, len(data)*2)
	for k, v := range data {
		args = append(args, k, v)
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug, tracelog.LogLevelInfo:
		t.log.Debug(msg, args...)
	case tracelog.LogLevelWarn:
		t.log.Warn(msg, args...)
	default:
		t.log.Error(msg, args...)
	}
}
