package leaselock

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kgqa:lock:"

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

type redisBackend struct {
	client goredis.UniversalClient
}

// NewRedis keeps leases as expiring keys kgqa:lock:{key} holding the token.
func NewRedis(client goredis.UniversalClient) *Client {
	return &Client{b: redisBackend{client: client}}
}

func (r redisBackend) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, redisKeyPrefix+key, token, ttl).Result()
}

func (r redisBackend) renew(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (r redisBackend) release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, token).Err()
}
