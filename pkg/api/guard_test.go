package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedisGuards(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, Guard, Guard) {
	t.Helper()
	mr := miniredis.RunT(t)

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
	return mr, NewRedisGuard(newClient(), ttl), NewRedisGuard(newClient(), ttl)
}

func TestRedisGuardSharedBetweenInstances(t *testing.T) {
	_, first, second := newRedisGuards(t, time.Minute)
	ctx := context.Background()

	ok, err := first.Acquire(ctx, "order-1")
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v", ok, err)
	}
	if ok, err := second.Acquire(ctx, "order-1"); err != nil || ok {
		t.Fatalf("second Acquire() = %v, %v; want false while held", ok, err)
	}
	if ok, err := second.Acquire(ctx, "order-2"); err != nil || !ok {
		t.Fatalf("other messages must not be blocked: %v, %v", ok, err)
	}

	first.Release(ctx, "order-1")
	if ok, err := second.Acquire(ctx, "order-1"); err != nil || !ok {
		t.Errorf("Acquire() after release = %v, %v", ok, err)
	}
}

func TestRedisGuardKeyExpires(t *testing.T) {
	mr, first, second := newRedisGuards(t, time.Minute)
	ctx := context.Background()

	if ok, _ := first.Acquire(ctx, "order-1"); !ok {
		t.Fatal("first Acquire() failed")
	}
	mr.FastForward(2 * time.Minute)

	if ok, err := second.Acquire(ctx, "order-1"); err != nil || !ok {
		t.Fatalf("Acquire() after expiry = %v, %v", ok, err)
	}

	// The stale holder finishing late must leave the new holder's key alone.
	first.Release(ctx, "order-1")
	if !mr.Exists("order-action:order-1") {
		t.Fatal("stale release deleted the current holder's key")
	}
	if ok, _ := first.Acquire(ctx, "order-1"); ok {
		t.Error("message should still be held by the second instance")
	}

	second.Release(ctx, "order-1")
	if mr.Exists("order-action:order-1") {
		t.Error("holder release should delete the key")
	}
}

func TestMemoryGuard(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	if ok, _ := guard.Acquire(ctx, "order-1"); !ok {
		t.Fatal("first Acquire() failed")
	}
	if ok, _ := guard.Acquire(ctx, "order-1"); ok {
		t.Error("second Acquire() should fail while held")
	}
	guard.Release(ctx, "order-1")
	if ok, _ := guard.Acquire(ctx, "order-1"); !ok {
		t.Error("Acquire() after release failed")
	}
}
