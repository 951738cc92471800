package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestZoneLocker_Unreachable(t *testing.T) {
	locker := NewZoneLocker(unreachableClient(t), "argos:lock:", time.Second, testLogger())

	unlock, err := locker.Lock(context.Background(), "ukraine")

	if err == nil {
		unlock()
		t.Fatal("expected an error from an unreachable redis")
	}
}

func TestZoneLocker_HeldPastTTL(t *testing.T) {
	client := liveClient(t)
	prefix := "argos:test:lock:" + uuid.NewString() + ":"
	ttl := 300 * time.Millisecond
	locker := NewZoneLocker(client, prefix, ttl, testLogger())
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "ukraine")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Outlive the TTL several times over; the lock must still be held.
	time.Sleep(3 * ttl)
	if n, err := client.Exists(ctx, prefix+"ukraine").Result(); err != nil || n != 1 {
		t.Fatalf("expected lock key to survive past its ttl, exists=%d err=%v", n, err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	if second, err := locker.Lock(waitCtx, "ukraine"); err == nil {
		second()
		t.Fatal("expected a second holder to be refused while the lock is extended")
	}

	unlock()
	if n, _ := client.Exists(ctx, prefix+"ukraine").Result(); n != 0 {
		t.Error("expected lock key removed on unlock")
	}

	again, err := locker.Lock(ctx, "ukraine")
	if err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
	again()
}
