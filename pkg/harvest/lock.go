package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FieldLocker serializes harvest recording per field so two concurrent
// calls cannot both snapshot the same pre-harvest window.
type FieldLocker interface {
	// Acquire blocks until the field lock is held or ctx is done. The
	// returned release must be called exactly once.
	Acquire(ctx context.Context, fieldRef string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex, sufficient for a single worker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*fieldLock
}

type fieldLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocalLocker creates an in-process field locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*fieldLock)}
}

func (l *LocalLocker) Acquire(_ context.Context, fieldRef string) (func(), error) {
	l.mu.Lock()
	fl, ok := l.locks[fieldRef]
	if !ok {
		fl = &fieldLock{}
		l.locks[fieldRef] = fl
	}
	fl.refs++
	l.mu.Unlock()

	fl.mu.Lock()
	return func() {
		fl.mu.Unlock()
		l.mu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(l.locks, fieldRef)
		}
		l.mu.Unlock()
	}, nil
}

// releaseScript deletes the lock key only when still held by this owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a short-lived advisory lock keyed by field, for
// deployments with multiple workers. SET NX with a TTL; the TTL bounds the
// damage of a crashed holder.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a Redis-backed field locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, fieldRef string) (func(), error) {
	key := "harvest_lock:" + fieldRef
	owner := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire field lock %s: %w", fieldRef, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire field lock %s: %w", fieldRef, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	return func() {
		_, _ = releaseScript.Run(context.Background(), l.client, []string{key}, owner).Result()
	}, nil
}
