package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker provides turn-level mutual exclusion per user ID.
// It prevents two concurrent messages from racing on the same
// conversation; different users proceed in parallel.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*userMutex
}

type userMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewConversationLocker creates a new locker.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{
		locks: make(map[string]*userMutex),
	}
}

// Lock acquires the lock for the given user ID. It blocks until the lock
// is acquired or the context is cancelled. Returns an unlock function
// that MUST be called when the turn is complete.
func (cl *ConversationLocker) Lock(ctx context.Context, userID string) (unlock func(), err error) {
	cl.mu.Lock()
	um, ok := cl.locks[userID]
	if !ok {
		um = &userMutex{}
		cl.locks[userID] = um
	}
	um.refCount++
	cl.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		um.mu.Lock()
		close(acquired)
	}()

	release := func() {
		um.mu.Unlock()
		cl.mu.Lock()
		um.refCount--
		if um.refCount == 0 {
			delete(cl.locks, userID)
		}
		cl.mu.Unlock()
	}

	select {
	case <-acquired:
		return release, nil

	case <-ctx.Done():
		// Cancelled before the lock was acquired. Wait for the acquiring
		// goroutine and release immediately to avoid a permanently held lock.
		go func() {
			<-acquired
			release()
		}()
		return nil, fmt.Errorf("conversation lock: %w", ctx.Err())
	}
}

// ActiveCount returns the number of users with active or pending locks.
// Intended for testing.
func (cl *ConversationLocker) ActiveCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.locks)
}
