package lock

import (
	"context"
	"time"

	"whatsapp-crm/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "whatsapp-crm:lease:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares leases between server replicas through Redis.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(cfg config.RedisConfig) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Ping checks the connection at startup.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{keyPrefix + l.key}, l.token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
