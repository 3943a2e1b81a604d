package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "courierhub:lock:"
	retryInterval  = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by all replicas. Keys expire after ttl so a
// crashed holder cannot block an order forever.
type Redis struct {
	c    *redis.Client
	ttl  time.Duration
	wait time.Duration
}

// NewRedis creates a Redis locker connected to addr.
func NewRedis(addr string, ttl, wait time.Duration) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl, wait)
}

// NewRedisWithClient creates a Redis locker on an existing client.
func NewRedisWithClient(c *redis.Client, ttl, wait time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{c: c, ttl: ttl, wait: wait}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	rkey := redisKeyPrefix + key
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.c.SetNX(ctx, rkey, token, r.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis lock")
		}
		if ok {
			return r.releaser(rkey, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, conflict(key)
		}

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Redis) releaser(rkey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// An expired or stolen lock is not an error for the holder.
			_ = releaseScript.Run(ctx, r.c, []string{rkey}, token).Err()
		})
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.c.Close()
}

var _ Locker = (*Redis)(nil)
