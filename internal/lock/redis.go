package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Only the holder's token may release or extend a key.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a Locker shared by every process pointed at the same Redis.
// Held leases are extended in the background until released.
type Redis struct {
	rc     *redis.Client
	logger zerolog.Logger
}

// NewRedis returns a locker backed by rc.
func NewRedis(rc *redis.Client, logger zerolog.Logger) *Redis {
	return &Redis{rc: rc, logger: logger}
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if r.rc == nil {
		return nil, false, errors.New("lock: redis client is nil")
	}
	token := uuid.NewString()
	ok, err := r.rc.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	lease := &redisLease{r: r, key: key, token: token, ttl: ttl, done: make(chan struct{})}
	go lease.keepAlive()
	return lease, true, nil
}

type redisLease struct {
	r     *Redis
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
	done  chan struct{}
}

func (l *redisLease) keepAlive() {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			n, err := extendScript.Run(ctx, l.r.rc, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.r.logger.Warn().Err(err).Str("key", l.key).Msg("lock extend failed")
				continue
			}
			if n == 0 {
				l.r.logger.Warn().Str("key", l.key).Msg("lock lost before release")
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = releaseScript.Run(ctx, l.r.rc, []string{l.key}, l.token).Err()
	})
	return err
}
