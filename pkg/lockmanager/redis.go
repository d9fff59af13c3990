package lockmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisBackend is the distributed single-instance lock backend: `SET
// key token NX PX ttl` to acquire, a Lua compare-and-extend script to
// renew, and a Lua compare-and-delete script to release. This is the
// standard single-node Redlock pattern; it does not attempt Redlock's
// multi-instance quorum, since a single Redis endpoint is all the
// stated distributed-lock requirement calls for.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend roots lock keys at prefix (e.g. "archiver:lock:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(name string) string {
	return b.prefix + name
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (b *RedisBackend) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := b.client.SetNX(ctx, b.key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lockmanager: redis setnx %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (b *RedisBackend) Renew(ctx context.Context, name, token string, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, b.client, []string{b.key(name)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lockmanager: redis renew %s: %w", name, err)
	}
	if res == 0 {
		return fmt.Errorf("lockmanager: renew %s: lock token mismatch or expired", name)
	}
	return nil
}

func (b *RedisBackend) Release(ctx context.Context, name, token string) error {
	_, err := releaseScript.Run(ctx, b.client, []string{b.key(name)}, token).Int()
	if err != nil {
		return fmt.Errorf("lockmanager: redis release %s: %w", name, err)
	}
	return nil
}
