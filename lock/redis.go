package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript implements the acquire semantics in one round trip:
// succeed if the lock key is unheld (HGET returns false — Redis has
// already evicted it via its own TTL, which is what stands in for
// "expiresAt < now") or already held by self, incrementing the renew
// counter on the latter path. Uses a hash so renew-count metadata survives
// alongside the holder.
const acquireScript = `
local holder = redis.call("HGET", KEYS[1], "holder")
if holder == false then
	redis.call("HSET", KEYS[1], "holder", ARGV[1], "acquiredAt", ARGV[2], "renewCount", 0)
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
	return 1
end
if holder == ARGV[1] then
	redis.call("HINCRBY", KEYS[1], "renewCount", 1)
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
	return 1
end
return 0
`

// renewScript is the same GET-then-PEXPIRE shape, kept separate from
// acquireScript because renew must fail (not steal) when the lock is
// unheld or held by someone else.
const renewScript = `
if redis.call("HGET", KEYS[1], "holder") == ARGV[1] then
	redis.call("HINCRBY", KEYS[1], "renewCount", 1)
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`

const releaseScript = `
if redis.call("HGET", KEYS[1], "holder") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisClient is the narrow go-redis surface RedisManager needs, so tests
// can fake it without a real server.
type RedisClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

func lockKey(lockID string) string { return "chronos:lock:" + lockID }

// RedisManager is the Manager implementation backed by
// github.com/redis/go-redis/v9.
type RedisManager struct {
	client RedisClient
	self   string

	mu    sync.Mutex
	held  map[string]bool
	timer map[string]func()
}

// NewRedisManager returns a Manager reporting as holder "self" — typically
// a worker id.
func NewRedisManager(client RedisClient, self string) *RedisManager {
	return &RedisManager{
		client: client,
		self:   self,
		held:   make(map[string]bool),
		timer:  make(map[string]func()),
	}
}

func (m *RedisManager) run(ctx context.Context, script, lockID string, args ...any) (bool, error) {
	res, err := m.client.Eval(ctx, script, []string{lockKey(lockID)}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("lock %q: %w", lockID, err)
	}
	return res == 1, nil
}

func (m *RedisManager) Acquire(ctx context.Context, lockID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := m.run(ctx, acquireScript, lockID, m.self, timeNow().UTC().Format(time.RFC3339Nano), ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	if ok {
		m.mu.Lock()
		m.held[lockID] = true
		m.mu.Unlock()
	}
	return ok, nil
}

func (m *RedisManager) Release(ctx context.Context, lockID string) (bool, error) {
	ok, err := m.run(ctx, releaseScript, lockID, m.self)
	m.mu.Lock()
	delete(m.held, lockID)
	if cancel, found := m.timer[lockID]; found {
		cancel()
		delete(m.timer, lockID)
	}
	m.mu.Unlock()
	return ok, err
}

func (m *RedisManager) Renew(ctx context.Context, lockID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return m.run(ctx, renewScript, lockID, m.self, ttl.Milliseconds())
}

func (m *RedisManager) IsHeldByMe(ctx context.Context, lockID string) (bool, error) {
	holder, err := m.client.HGet(ctx, lockKey(lockID), "holder").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock %q: %w", lockID, err)
	}
	return holder == m.self, nil
}

// AcquireWithRenewal uses a ticker-plus-select goroutine driving periodic
// Renew calls. Renewal failure (lock lost) stops the goroutine and forgets
// the lock without surfacing an error to the caller — by the time renewal
// failed there was nothing left to report the loss to synchronously.
func (m *RedisManager) AcquireWithRenewal(ctx context.Context, lockID string, ttl, renewEvery time.Duration) (bool, func(), error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if renewEvery <= 0 {
		renewEvery = ttl / 2
	}
	ok, err := m.Acquire(ctx, lockID, ttl)
	if err != nil || !ok {
		return ok, func() {}, err
	}

	renewCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := newTicker(renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				held, err := m.Renew(renewCtx, lockID, ttl)
				if err != nil || !held {
					m.mu.Lock()
					delete(m.held, lockID)
					m.mu.Unlock()
					return
				}
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
	}
	m.mu.Lock()
	m.timer[lockID] = stop
	m.mu.Unlock()
	return true, stop, nil
}

func (m *RedisManager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if _, err := m.Release(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *RedisManager) WithLock(ctx context.Context, lockID string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	ok, err := m.Acquire(ctx, lockID, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() { _, _ = m.Release(ctx, lockID) }()
	return true, fn(ctx)
}
