package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/capstack/origination/common/bootstrap"
	"github.com/capstack/origination/common/notify"
	"github.com/capstack/origination/common/ratelimit"
	"github.com/capstack/origination/common/resumesync"
	"github.com/capstack/origination/common/store"
	"github.com/capstack/origination/common/validate"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	Store     store.Store
	Feed      notify.Feed
	Validator *validate.Validator
	Writer    *resumesync.Writer
	Limiter   *ratelimit.RateLimiter
}

// NewContainer initializes all services once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	if components.DB == nil {
		return nil, errors.New("api requires a database")
	}
	if components.Redis == nil {
		return nil, errors.New("api requires redis")
	}

	st := store.NewPostgresStore(components.DB, components.Logger)
	feed := notify.NewRedisFeed(components.Redis, components.Logger)

	validator, err := validate.New(components.Logger, validate.DefaultRules()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build validator: %w", err)
	}

	writer := resumesync.NewWriter(st, validator, feed, components.Logger)
	limiter := ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), components.Logger)

	// Make sure the autofill job stream's consumer group exists so jobs
	// enqueued before any worker starts are not lost.
	if err := components.Redis.CreateStreamGroup(
		ctx, components.Config.Autofill.Stream, components.Config.Autofill.Group,
	); err != nil {
		return nil, fmt.Errorf("failed to create autofill stream group: %w", err)
	}

	return &Container{
		Components: components,
		Store:      st,
		Feed:       feed,
		Validator:  validator,
		Writer:     writer,
		Limiter:    limiter,
	}, nil
}
