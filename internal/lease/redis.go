package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// compare-and-delete so a late release never drops someone else's lease
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser shares leases across processes through SET NX PX.
type RedisLeaser struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisLeaser(rdb redis.UniversalClient, prefix string) *RedisLeaser {
	if prefix == "" {
		prefix = "netdoctor:lease:"
	}
	return &RedisLeaser{rdb: rdb, prefix: prefix}
}

func (r *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	now := time.Now()
	token := newToken()
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{Key: key, Token: token, AcquiredAt: now, ExpiresAt: now.Add(ttl)}, nil
}

func (r *RedisLeaser) Release(ctx context.Context, l *Lease) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{r.prefix + l.Key}, l.Token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
