package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetProgress(ctx context.Context, jobID string, p *models.Progress, ttl time.Duration) error
	GetProgress(ctx context.Context, jobID string) (*models.Progress, bool, error)
	AcquireLaunch(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	RefreshLaunch(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	ReleaseLaunch(ctx context.Context, jobID string) (bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
// Each RedisCache holds a unique token that it writes into the launch locks it
// takes, so it only ever refreshes or releases its own.
type RedisCache struct {
	client *redis.Client
	token  string
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), token: uuid.NewString()}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) SetProgress(ctx context.Context, jobID string, p *models.Progress, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return c.Set(ctx, ProgressKey(jobID), b, ttl)
}

func (c *RedisCache) GetProgress(ctx context.Context, jobID string) (*models.Progress, bool, error) {
	b, found, err := c.Get(ctx, ProgressKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var p models.Progress
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false, fmt.Errorf("decode progress: %w", err)
	}
	return &p, true, nil
}

var (
	refreshLaunchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLaunchScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// AcquireLaunch takes the per-job monitor lock. It returns false when another
// holder's lock has not yet expired.
func (c *RedisCache) AcquireLaunch(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, LaunchKey(jobID), c.token, ttl).Result()
}

// RefreshLaunch extends the lock if this cache still holds it. It returns
// false when the lock expired or now belongs to someone else.
func (c *RedisCache) RefreshLaunch(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	n, err := refreshLaunchScript.Run(ctx, c.client, []string{LaunchKey(jobID)}, c.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLaunch deletes the lock only if this cache still holds it.
func (c *RedisCache) ReleaseLaunch(ctx context.Context, jobID string) (bool, error) {
	n, err := releaseLaunchScript.Run(ctx, c.client, []string{LaunchKey(jobID)}, c.token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
