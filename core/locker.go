package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultUserLockTimeout = 30 * time.Second

// MemoryUserLocker is a blocking keyed mutex. Lock waits until the user's
// previous holder releases or the timeout elapses.
type MemoryUserLocker struct {
	mu      sync.Mutex
	slots   map[string]*userLockSlot
	timeout time.Duration
}

type userLockSlot struct {
	ch      chan struct{}
	waiters int
}

func NewMemoryUserLocker(timeout time.Duration) *MemoryUserLocker {
	if timeout <= 0 {
		timeout = defaultUserLockTimeout
	}
	return &MemoryUserLocker{
		slots:   map[string]*userLockSlot{},
		timeout: timeout,
	}
}

func (l *MemoryUserLocker) Lock(ctx context.Context, userID string) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: user locker is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("core: user id is required for lock acquisition")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	slot, ok := l.slots[userID]
	if !ok {
		slot = &userLockSlot{ch: make(chan struct{}, 1)}
		l.slots[userID] = slot
	}
	slot.waiters++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		return &memoryUserLockHandle{locker: l, userID: userID, slot: slot}, nil
	case <-ctx.Done():
		l.release(userID, slot, false)
		return nil, ctx.Err()
	case <-timer.C:
		l.release(userID, slot, false)
		return nil, fmt.Errorf("core: timed out waiting for user lock %q", userID)
	}
}

func (l *MemoryUserLocker) release(userID string, slot *userLockSlot, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held {
		<-slot.ch
	}
	slot.waiters--
	if slot.waiters <= 0 {
		delete(l.slots, userID)
	}
}

type memoryUserLockHandle struct {
	locker *MemoryUserLocker
	userID string
	slot   *userLockSlot
	once   sync.Once
}

func (h *memoryUserLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.release(h.userID, h.slot, true)
	})
	return nil
}

var _ UserLocker = (*MemoryUserLocker)(nil)
