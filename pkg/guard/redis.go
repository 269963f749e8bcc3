package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultKey is the Redis key holding the lease.
	DefaultKey = "provisioner:workflow:lease"

	// DefaultLeaseTTL bounds how long a crashed holder blocks new workflows.
	// A live holder renews the lease every third of it.
	DefaultLeaseTTL = 30 * time.Minute

	renewTimeout = 5 * time.Second
)

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a guard backed by a Redis key set with NX and a TTL.
// Errors while acquiring are treated as "busy".
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis creates a Redis guard. Empty key and non-positive ttl use the defaults.
func NewRedis(client *redis.Client, key string, ttl time.Duration, logger zerolog.Logger) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.With().Str("component", "guard").Str("key", key).Logger(),
	}
}

// TryAcquire sets the lease key if no one holds it and keeps renewing it
// until the returned Lease is released.
func (g *Redis) TryAcquire(ctx context.Context) (Lease, bool) {
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to acquire workflow lease, refusing start")
		rejectionsTotal.WithLabelValues("redis").Inc()
		return nil, false
	}
	if !ok {
		rejectionsTotal.WithLabelValues("redis").Inc()
		return nil, false
	}

	l := &redisLease{
		guard:  g,
		token:  token,
		logger: g.logger.With().Str("lease", token).Logger(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.heartbeat(context.WithoutCancel(ctx))

	l.logger.Debug().Dur("ttl", g.ttl).Msg("Workflow lease acquired")
	return l, true
}

// Running reports whether any process holds the lease.
func (g *Redis) Running(ctx context.Context) bool {
	n, err := g.client.Exists(ctx, g.key).Result()
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to read workflow lease, reporting running")
		return true
	}
	return n > 0
}

// redisLease owns one token; its heartbeat and release touch the key only
// while it still holds that token.
type redisLease struct {
	guard  *Redis
	token  string
	logger zerolog.Logger

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (l *redisLease) heartbeat(ctx context.Context) {
	defer close(l.done)

	interval := l.guard.ttl / 3
	if interval <= 0 {
		interval = l.guard.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		if !l.renew(ctx) {
			return
		}
	}
}

// renew reports whether the heartbeat should keep running.
func (l *redisLease) renew(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, renewTimeout)
	defer cancel()

	renewed, err := renewScript.Run(rctx, l.guard.client, []string{l.guard.key}, l.token, l.guard.ttl.Milliseconds()).Int()
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to renew workflow lease, retrying")
		return true
	}
	if renewed == 0 {
		l.logger.Error().Msg("Workflow lease lost while running")
		return false
	}
	l.logger.Debug().Dur("ttl", l.guard.ttl).Msg("Workflow lease renewed")
	return true
}

// Release stops the heartbeat and deletes the lease if it is still ours.
func (l *redisLease) Release(ctx context.Context) {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		deleted, err := releaseScript.Run(ctx, l.guard.client, []string{l.guard.key}, l.token).Int()
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to release workflow lease, it will expire after its TTL")
			return
		}
		if deleted == 0 {
			l.logger.Warn().Msg("Workflow lease expired before release")
		}
	})
}
