package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultKey = "waas:sweep-lock"
	DefaultTTL = 10 * time.Minute
)

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SweepLock shared by every instance pointing at the same
// Redis. The TTL bounds how long a crashed holder can block others.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration, log zerolog.Logger) *RedisLock {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl, log: log}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), bool, error) {
	if l.client == nil {
		return nil, false, errors.New("redis lock: client is nil")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: set %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(rctx, l.client, []string{l.key}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", l.key).Msg("redis lock: release failed, lock expires with its ttl")
		}
	}
	return release, true, nil
}
