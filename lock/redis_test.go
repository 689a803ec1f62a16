package lock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory stand-in for RedisClient, just enough of
// Redis's hash + Lua semantics to exercise RedisManager without a server.
type fakeRedis struct {
	hashes map[string]map[string]string
	ttl    map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]string{}, ttl: map[string]time.Time{}}
}

func (f *fakeRedis) expire(key string) {
	if exp, ok := f.ttl[key]; ok && timeNow().After(exp) {
		delete(f.hashes, key)
		delete(f.ttl, key)
	}
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	f.expire(key)
	cmd := redis.NewStringCmd(ctx)
	h, ok := f.hashes[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	v, ok := h[field]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

// Eval interprets exactly the three scripts RedisManager sends, matching
// each by its distinguishing Redis call rather than parsing Lua.
func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	f.expire(key)
	cmd := redis.NewCmd(ctx)

	switch {
	case containsAll(script, "HSET", "renewCount\", 0"):
		self := args[0].(string)
		h, ok := f.hashes[key]
		if !ok {
			f.hashes[key] = map[string]string{"holder": self, "renewCount": "0"}
			f.ttl[key] = timeNow().Add(time.Duration(args[2].(int64)) * time.Millisecond)
			cmd.SetVal(int64(1))
			return cmd
		}
		if h["holder"] == self {
			f.ttl[key] = timeNow().Add(time.Duration(args[2].(int64)) * time.Millisecond)
			cmd.SetVal(int64(1))
			return cmd
		}
		cmd.SetVal(int64(0))
		return cmd

	case containsAll(script, "HINCRBY", "PEXPIRE") && !containsAll(script, "DEL"):
		self := args[0].(string)
		h, ok := f.hashes[key]
		if !ok || h["holder"] != self {
			cmd.SetVal(int64(0))
			return cmd
		}
		f.ttl[key] = timeNow().Add(time.Duration(args[1].(int64)) * time.Millisecond)
		cmd.SetVal(int64(1))
		return cmd

	case containsAll(script, "DEL"):
		self := args[0].(string)
		h, ok := f.hashes[key]
		if !ok || h["holder"] != self {
			cmd.SetVal(int64(0))
			return cmd
		}
		delete(f.hashes, key)
		delete(f.ttl, key)
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestAcquireUnheld(t *testing.T) {
	c := newFakeRedis()
	m := NewRedisManager(c, "worker-1")

	ok, err := m.Acquire(context.Background(), "sweep", time.Minute)

	if err != nil || !ok {
		t.Fatalf("Acquire(...) = %v, %v, want true, <nil>", ok, err)
	}
}

func TestAcquireHeldByOther(t *testing.T) {
	c := newFakeRedis()
	a := NewRedisManager(c, "worker-1")
	b := NewRedisManager(c, "worker-2")
	if ok, err := a.Acquire(context.Background(), "sweep", time.Minute); err != nil || !ok {
		t.Fatalf("a.Acquire(...) = %v, %v, want true, <nil>", ok, err)
	}

	ok, err := b.Acquire(context.Background(), "sweep", time.Minute)

	if err != nil {
		t.Fatalf("b.Acquire(...) = _, %q, want <nil>", err)
	}
	if ok {
		t.Errorf("b.Acquire(...) = true, want false (held by worker-1)")
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	c := newFakeRedis()
	a := NewRedisManager(c, "worker-1")
	b := NewRedisManager(c, "worker-2")
	if _, err := a.Acquire(context.Background(), "sweep", time.Minute); err != nil {
		t.Fatalf("a.Acquire(...) = _, %q", err)
	}

	ok, err := b.Release(context.Background(), "sweep")
	if err != nil || ok {
		t.Errorf("b.Release(...) = %v, %v, want false, <nil>", ok, err)
	}

	ok, err = a.Release(context.Background(), "sweep")
	if err != nil || !ok {
		t.Errorf("a.Release(...) = %v, %v, want true, <nil>", ok, err)
	}
}

func TestIsHeldByMe(t *testing.T) {
	c := newFakeRedis()
	a := NewRedisManager(c, "worker-1")
	held, err := a.IsHeldByMe(context.Background(), "sweep")
	if err != nil || held {
		t.Fatalf("IsHeldByMe(unacquired) = %v, %v, want false, <nil>", held, err)
	}

	if _, err := a.Acquire(context.Background(), "sweep", time.Minute); err != nil {
		t.Fatalf("Acquire(...) = _, %q", err)
	}
	held, err = a.IsHeldByMe(context.Background(), "sweep")
	if err != nil || !held {
		t.Errorf("IsHeldByMe(acquired) = %v, %v, want true, <nil>", held, err)
	}
}

func TestWithLockRunsOnlyWhenAcquired(t *testing.T) {
	c := newFakeRedis()
	a := NewRedisManager(c, "worker-1")
	b := NewRedisManager(c, "worker-2")

	var ran bool
	acquired, err := a.WithLock(context.Background(), "sweep", time.Minute, func(ctx context.Context) error {
		ran = true

		_, berr := b.WithLock(context.Background(), "sweep", time.Minute, func(ctx context.Context) error {
			t.Fatal("b's fn should never run while a holds the lock")
			return nil
		})
		return berr
	})

	if err != nil || !acquired || !ran {
		t.Fatalf("a.WithLock(...) = %v, %v, want true, <nil> (ran=%v)", acquired, err, ran)
	}
	held, _ := a.IsHeldByMe(context.Background(), "sweep")
	if held {
		t.Errorf("lock still held after WithLock returned")
	}
}

func TestReleaseAll(t *testing.T) {
	c := newFakeRedis()
	a := NewRedisManager(c, "worker-1")
	if _, err := a.Acquire(context.Background(), "sweep", time.Minute); err != nil {
		t.Fatalf("Acquire(sweep) = _, %q", err)
	}
	if _, err := a.Acquire(context.Background(), "purge", time.Minute); err != nil {
		t.Fatalf("Acquire(purge) = _, %q", err)
	}

	if err := a.ReleaseAll(context.Background()); err != nil {
		t.Fatalf("ReleaseAll(...) = %q, want <nil>", err)
	}

	for _, id := range []string{"sweep", "purge"} {
		held, _ := a.IsHeldByMe(context.Background(), id)
		if held {
			t.Errorf("IsHeldByMe(%q) = true after ReleaseAll", id)
		}
	}
}
