package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("redisstore: lock wait timed out")

// only the holder's token may delete the key
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a per-key mutex shared by every relay instance pointed at the
// same Redis. A crashed holder releases the key after TTL.
type Locker struct {
	rdb   *redis.Client
	TTL   time.Duration
	Wait  time.Duration
	Retry time.Duration
}

func NewLocker(s *Store) *Locker {
	return &Locker{
		rdb:   s.rdb,
		TTL:   10 * time.Second,
		Wait:  5 * time.Second,
		Retry: 25 * time.Millisecond,
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	key = "lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.Wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Retry):
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// the caller's ctx may already be done
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(cctx, l.rdb, []string{key}, token).Err()
	}, nil
}
