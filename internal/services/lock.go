package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionLocker serializes the two-turn append sequence of concurrent sends
// against the same session. Locks are scoped to one session id; sends on
// different sessions never contend.
type SessionLocker interface {
	// Lock blocks until the session lock is held or ctx is done. The
	// returned function releases the lock.
	Lock(ctx context.Context, sessionID uuid.UUID) (func(), error)
}

// MemoryLocker is the single-instance locker: one mutex per session id.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *MemoryLocker) Lock(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// RedisLocker serializes appends across server instances sharing one store.
// SET NX with an expiry guards against a crashed holder wedging the session.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: 30 * time.Second}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Lock(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	key := "chat:lock:" + sessionID.String()
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		unlockScript.Run(ctx, l.client, []string{key}, token)
	}
	return release, nil
}
