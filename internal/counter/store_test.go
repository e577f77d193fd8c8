package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, NewRedisStore(rdb, "test")
}

func TestIncrementArmsTTLOnFirstHit(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "gov:ip:10.0.0.1", time.Hour)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if got != want {
			t.Fatalf("Increment = %d, want %d", got, want)
		}
	}

	if ttl := mr.TTL("test:gov:ip:10.0.0.1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(time.Hour + time.Second)

	n, err := store.Count(ctx, "gov:ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected counter to expire, got %d", n)
	}
}

func TestIncrementIsAtomicUnderConcurrency(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.Increment(ctx, "gov:id:alice", time.Minute); err != nil {
				t.Errorf("Increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := store.Count(ctx, "gov:id:alice")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != workers {
		t.Fatalf("expected %d, got %d", workers, n)
	}
}

func TestIncrementRejectsNonPositiveTTL(t *testing.T) {
	_, store := newTestStore(t)
	if _, err := store.Increment(context.Background(), "k", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestGetSetDelete(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := store.Delete(ctx, "k", "other"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSetIfAbsent(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "marker", []byte("1"), 15*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent = %v, %v", ok, err)
	}
	ok, err = store.SetIfAbsent(ctx, "marker", []byte("1"), 15*time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetIfAbsent = %v, %v", ok, err)
	}

	mr.FastForward(15*time.Minute + time.Second)
	ok, err = store.SetIfAbsent(ctx, "marker", []byte("1"), 15*time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetIfAbsent after expiry = %v, %v", ok, err)
	}
}

func TestUpdateAppliesMutationAndReturnsError(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()
	rejected := errors.New("rejected")

	err := store.Update(ctx, "rec", func(current []byte) (Mutation, error) {
		if current != nil {
			t.Fatalf("expected nil current, got %q", current)
		}
		return Mutation{Value: []byte("a"), TTL: time.Minute}, rejected
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	got, err := store.Get(ctx, "rec")
	if err != nil || string(got) != "a" {
		t.Fatalf("mutation not applied: %q, %v", got, err)
	}

	if err := store.Update(ctx, "rec", func([]byte) (Mutation, error) {
		return Mutation{Delete: true}, nil
	}); err != nil {
		t.Fatalf("delete update failed: %v", err)
	}
	if _, err := store.Get(ctx, "rec"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deletion, got %v", err)
	}
}

func TestStoreUnavailableWrapsSentinel(t *testing.T) {
	mr, store := newTestStore(t)
	mr.Close()

	_, err := store.Increment(context.Background(), "k", time.Minute)
	if !errors.Is(err, failure.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
