package pointledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// lockRegistry serializes balance-mutating operations per (user, category)
// key. A consume or sweep that cannot take its slot within the timeout fails
// with ErrContention instead of queueing indefinitely.
type lockRegistry struct {
	mutex sync.Mutex
	slots map[string]chan struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{slots: make(map[string]chan struct{})}
}

func (registry *lockRegistry) slot(key string) chan struct{} {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	slot, ok := registry.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		registry.slots[key] = slot
	}
	return slot
}

// acquire holds the key until the returned release func runs.
func (registry *lockRegistry) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	slot := registry.slot(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrContention, key)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrContention, key, ctx.Err())
	}
}

func consumeLockKey(userID UserID, kind CategoryKind) string {
	return userID.String() + "/" + kind.String()
}
