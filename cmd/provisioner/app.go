package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/token-provisioner/pkg/client"
	"github.com/Sternrassler/token-provisioner/pkg/config"
	"github.com/Sternrassler/token-provisioner/pkg/guard"
	"github.com/Sternrassler/token-provisioner/pkg/logging"
	"github.com/Sternrassler/token-provisioner/pkg/poll"
	"github.com/Sternrassler/token-provisioner/pkg/provisioner"
	"github.com/Sternrassler/token-provisioner/pkg/ratelimit"
	"github.com/Sternrassler/token-provisioner/pkg/remote"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is one wired orchestrator plus the connections it owns.
type app struct {
	cfg    config.Config
	orch   *provisioner.Orchestrator
	redis  *redis.Client
	logger zerolog.Logger
}

// newApp wires every component from cfg. The caller must Close the app.
func newApp(ctx context.Context, cfg config.Config, reporter provisioner.Reporter) (*app, error) {
	a := &app{cfg: cfg, logger: logging.NewLogger("app")}

	if cfg.Guard.Backend == config.GuardRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	clientCfg := client.Config{
		UserAgent:  cfg.Service.UserAgent,
		AuthHeader: cfg.Service.AuthHeader,
		Timeout:    cfg.Service.Timeout,
	}
	if cfg.RateLimit.Enabled {
		var store ratelimit.Store = ratelimit.NewMemoryStore()
		if a.redis != nil {
			store = ratelimit.NewRedisStore(a.redis)
		}
		tracker := ratelimit.NewTracker(store, logging.NewLogger("ratelimit"))
		tracker.SetThrottleDelay(cfg.RateLimit.ThrottleDelay)
		clientCfg.Tracker = tracker
	}

	c, err := client.New(clientCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	var g guard.Guard = guard.NewLocal()
	if a.redis != nil {
		g = guard.NewRedis(a.redis, cfg.Guard.Key, cfg.Guard.LeaseTTL, logging.NewLogger("guard"))
	}

	pollLogger := logging.NewLogger("poll")
	loop := &poll.Loop{
		Interval:    cfg.Poll.Interval,
		MaxAttempts: cfg.Poll.MaxAttempts,
		Logger:      &pollLogger,
	}

	names := cfg.EntityNames()
	entities := make(provisioner.StaticEntities, len(names))
	for i, name := range names {
		entities[i] = provisioner.Entity{Index: i, Name: name}
	}

	if reporter == nil {
		reporter = provisioner.NewLogReporter(logging.NewLogger("report"))
	}

	a.orch, err = provisioner.New(provisioner.Config{
		Remote:          remote.NewService(c, cfg.Service.Endpoints, logging.NewLogger("remote")),
		Guard:           g,
		Entities:        entities,
		Finalizer:       provisioner.FinalizerFunc(a.initializationComplete),
		Reporter:        reporter,
		Poll:            loop,
		ActivationDelay: cfg.Activation.OrchestratorDelay(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initializationComplete(_ context.Context, s provisioner.Summary) error {
	a.logger.Info().
		Str("run_id", s.RunID).
		Str("account", s.Account).
		Int("activated", s.Succeeded).
		Int("total", s.Total).
		Msg("Initialization complete")
	return nil
}

// startCreation starts a creation workflow with the configured credentials.
func (a *app) startCreation() (*provisioner.Run, bool) {
	return a.orch.TryStartCreation(a.cfg.APIKey, a.cfg.Account)
}

// startActivation starts an activation workflow with the configured credentials.
func (a *app) startActivation() (*provisioner.Run, bool) {
	return a.orch.TryStartActivation(a.cfg.APIKey, a.cfg.Account)
}

// Close releases the Redis connection, if any.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}
