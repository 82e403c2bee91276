/*
Package redislock is a generic.Locker backed by Redis, for deployments that
run more than one server process against the same database.

PROTOCOL:
  Lock:    SET <prefix><key> <token> NX PX <ttl>
           retried every RetryInterval until it succeeds or ctx is done
  Unlock:  compare-and-delete in a Lua script, so a holder whose TTL expired
           can never release a lock another process acquired since

TTL:
  The TTL bounds how long a crashed holder can block a key. It must exceed
  the longest operation run under the lock (the service operation timeout).

SEE ALSO:
  - generic/lock.go: in-process KeyedMutex with the same contract
*/
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/crm-workflow/generic"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultPrefix        = "crm:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Locker implements generic.Locker.
type Locker struct {
	client        redis.Cmdable
	TTL           time.Duration
	RetryInterval time.Duration
	Prefix        string
	Logger        *slog.Logger
}

var _ generic.Locker = (*Locker)(nil)

func New(client redis.Cmdable, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		client:        client,
		TTL:           DefaultTTL,
		RetryInterval: DefaultRetryInterval,
		Prefix:        DefaultPrefix,
		Logger:        logger.With("component", "redislock"),
	}
}

// Lock blocks until key is acquired or ctx is done. Redis errors fail fast
// as StorageUnavailable.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, generic.Storage("lock "+key, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, generic.Storage("lock "+key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// unlocker releases on a fresh context: the caller's ctx is often already
// cancelled by the time the deferred unlock runs.
func (l *Locker) unlocker(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, token) })
	}
}

func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		l.Logger.Error("lock release failed", "key", redisKey, "error", err)
		return
	}
	if n == 0 {
		l.Logger.Warn("lock expired before release", "key", redisKey, "ttl", l.TTL)
	}
}
