// Package lock provides distributed, renewable mutual exclusion.
// This package is internal and should not be imported by external projects.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by Acquire when another holder already
// owns the lock.
var ErrNotAcquired = errors.New("lock already held")

// ErrNotHeld is returned by Extend/Unlock when the caller no longer
// owns the lock (it expired or was taken over).
var ErrNotHeld = errors.New("lock not held by caller")

// Lock is a held, renewable lease.
type Lock interface {
	// Extend pushes the lease's expiry ttl into the future. Callers
	// must never extend past the interval of the work they protect.
	Extend(ctx context.Context, ttl time.Duration) error

	// Unlock releases the lease.
	Unlock(ctx context.Context) error
}

// Manager hands out locks keyed by string.
type Manager interface {
	// Acquire takes the lock or fails fast with ErrNotAcquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// unlockScript releases the key only when the caller still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the expiry only when the caller still owns it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisManager implements Manager over a shared Redis, giving
// cluster-wide exclusivity.
type RedisManager struct {
	client *redis.Client
	prefix string
}

// NewRedisManager returns a manager using the given client. Keys are
// namespaced under prefix.
func NewRedisManager(client *redis.Client, prefix string) *RedisManager {
	if prefix == "" {
		prefix = "botflow:lock:"
	}
	return &RedisManager{client: client, prefix: prefix}
}

// Acquire implements Manager.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.New().String()
	ok, err := m.client.SetNX(ctx, m.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLock{client: m.client, key: m.prefix + key, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *redisLock) Unlock(ctx context.Context) error {
	res, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// MemoryManager implements Manager in-process, for tests and
// single-node deployments.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]*memoryLease
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemoryManager returns an in-process lock manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{locks: map[string]*memoryLease{}}
}

// Acquire implements Manager.
func (m *MemoryManager) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if lease, ok := m.locks[key]; ok && lease.expires.After(now) {
		return nil, ErrNotAcquired
	}

	token := uuid.New().String()
	m.locks[key] = &memoryLease{token: token, expires: now.Add(ttl)}
	return &memoryLock{mgr: m, key: key, token: token}, nil
}

type memoryLock struct {
	mgr   *MemoryManager
	key   string
	token string
}

func (l *memoryLock) Extend(_ context.Context, ttl time.Duration) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()

	lease, ok := l.mgr.locks[l.key]
	if !ok || lease.token != l.token || !lease.expires.After(time.Now()) {
		return ErrNotHeld
	}
	lease.expires = time.Now().Add(ttl)
	return nil
}

func (l *memoryLock) Unlock(_ context.Context) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()

	lease, ok := l.mgr.locks[l.key]
	if !ok || lease.token != l.token {
		return ErrNotHeld
	}
	delete(l.mgr.locks, l.key)
	return nil
}
