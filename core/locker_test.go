package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryUserLocker_SerializesSameUser(t *testing.T) {
	locker := NewMemoryUserLocker(time.Second)
	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := locker.Lock(context.Background(), "user_1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			_ = handle.Unlock(context.Background())
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected serialized access, saw %d concurrent holders", maxActive)
	}
}

func TestMemoryUserLocker_DifferentUsersDoNotBlock(t *testing.T) {
	locker := NewMemoryUserLocker(50 * time.Millisecond)
	first, err := locker.Lock(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("lock user_1: %v", err)
	}
	defer func() { _ = first.Unlock(context.Background()) }()

	second, err := locker.Lock(context.Background(), "user_2")
	if err != nil {
		t.Fatalf("lock user_2: %v", err)
	}
	_ = second.Unlock(context.Background())
}

func TestMemoryUserLocker_TimesOutAndHonorsContext(t *testing.T) {
	locker := NewMemoryUserLocker(20 * time.Millisecond)
	held, err := locker.Lock(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := locker.Lock(context.Background(), "user_1"); err == nil {
		t.Fatalf("expected timeout while lock is held")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Lock(ctx, "user_1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	_ = held.Unlock(context.Background())
	_ = held.Unlock(context.Background())
	again, err := locker.Lock(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("expected lock after release: %v", err)
	}
	_ = again.Unlock(context.Background())
}
