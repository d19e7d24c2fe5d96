package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"postforge/internal/config"
)

const defaultTTL = 2 * time.Minute

// renewScript extends the TTL only while the caller still owns the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func newRedisClient(cfg config.Lease) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("lease.redis_addr is required for the redis backend")
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), nil
}

// Redis is a TTL lease shared by every scheduler pointed at the same server.
type Redis struct {
	mu     sync.Mutex
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
	held   bool
}

// NewRedis returns the lease for stage stored at <prefix>:<stage>.
func NewRedis(client redis.Cmdable, prefix, stage string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{
		client: client,
		key:    strings.TrimSuffix(prefix, ":") + ":" + stage,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (r *Redis) Acquire(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held {
		renewed, err := renewScript.Run(ctx, r.client, []string{r.key}, r.token, r.ttl.Milliseconds()).Int()
		if err != nil {
			return false, fmt.Errorf("renew lease %s: %w", r.key, err)
		}
		if renewed == 1 {
			return true, nil
		}
		r.held = false
	}

	ok, err := r.client.SetNX(ctx, r.key, r.token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", r.key, err)
	}
	r.held = ok
	return ok, nil
}

func (r *Redis) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.held {
		return nil
	}
	r.held = false
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Name() string { return "redis:" + r.key }

// RenewInterval implements Renewer. Three renewals fit in one TTL.
func (r *Redis) RenewInterval() time.Duration { return r.ttl / 3 }
