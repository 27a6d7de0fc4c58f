package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryLockStore struct {
	values map[string]string
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryLockStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestLockAcquireRelease(t *testing.T) {
	t.Setenv("FORMPAY_WORKER_ID", "probe-7")
	store := newMemoryLockStore()
	first, err := NewLock(store, "formpay:lock:job:1", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewLock(store, "formpay:lock:job:1", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	ok, err := first.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if got := store.values["formpay:lock:job:1"]; got != first.Owner() || !strings.HasPrefix(got, "probe-7/") {
		t.Fatalf("expected instance-tagged owner, got %q", got)
	}
	ok, err = second.Acquire(context.Background())
	if err != nil || ok {
		t.Fatalf("expected second acquire to fail, ok=%v err=%v", ok, err)
	}

	if err := second.Release(context.Background()); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if _, held := store.values["formpay:lock:job:1"]; !held {
		t.Fatal("non-owner release must not delete the lock")
	}

	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.values["formpay:lock:job:1"]; held {
		t.Fatal("expected owner release to delete the lock")
	}
	if first.Owner() != "" {
		t.Fatal("expected owner cleared after release")
	}
}

func TestLockReleaseAfterExpiry(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewLock(store, "k", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if lock.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %v", lock.ttl)
	}
	if ok, _ := lock.Acquire(context.Background()); !ok {
		t.Fatal("expected acquire")
	}
	delete(store.values, "k")
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("expected nil error when the key expired, got %v", err)
	}
}

func TestNewLockValidation(t *testing.T) {
	if _, err := NewLock(nil, "k", time.Second); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewLock(newMemoryLockStore(), "", time.Second); err == nil {
		t.Fatal("expected error for empty key")
	}
}
