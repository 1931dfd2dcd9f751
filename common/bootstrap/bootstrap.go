package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/capstack/origination/common/cache"
	"github.com/capstack/origination/common/config"
	"github.com/capstack/origination/common/db"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/queue"
	"github.com/capstack/origination/common/redis"
	"github.com/capstack/origination/common/telemetry"
)

// Setup initializes all service components.
// This is the main entry point for all services.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		if options.runMigrations {
			components.Logger.Info("applying schema migrations")
			if err := db.RunMigrations(ctx, components.Config.DatabaseURL()); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
		}

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize redis (if not skipped)
	if !options.skipRedis {
		components.Logger.Info("connecting to redis", "addr", components.Config.RedisAddr())

		underlying := goredis.NewClient(&goredis.Options{
			Addr:     components.Config.RedisAddr(),
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		if err := underlying.Ping(ctx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Redis = redis.NewClient(underlying, components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return underlying.Close()
		})
	}

	// 5. Initialize the in-process bus (if not skipped)
	if !options.skipBus {
		components.Bus = queue.NewMemoryBus(components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing event bus")
			return components.Bus.Close()
		})
	}

	// 6. Initialize cache (if not skipped)
	if !options.skipCache && components.Config.Cache.Enabled {
		components.Logger.Info("initializing cache",
			"default_ttl", components.Config.Cache.DefaultTTL,
		)

		components.Cache = cache.NewMemoryCache(components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 7. Initialize telemetry. The recorders are log-backed and always
	// on; the pprof listener is opt-in.
	components.Telemetry = telemetry.New(
		components.Config.Telemetry.PprofPort,
		components.Logger,
	)
	if components.Config.Telemetry.EnablePprof {
		if err := components.Telemetry.Start(ctx); err != nil {
			// Don't fail startup if telemetry fails
			components.Logger.Warn("failed to start telemetry", "error", err)
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"bus", components.Bus != nil,
		"cache", components.Cache != nil,
		"pprof", components.Config.Telemetry.EnablePprof,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error.
// Useful for services that can't recover from initialization failure.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
