package session

import (
	"context"
	"sync"
)

// Locker serialises work per user. Entries are reference counted and removed
// once nobody holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker constructs an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*userLock)}
}

// Lock blocks until the user's lock is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, userID int64) error {
	ul := l.ref(userID)
	select {
	case ul.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(userID, ul)
		return ctx.Err()
	}
}

// TryLock acquires the user's lock only if it is free.
func (l *Locker) TryLock(userID int64) bool {
	ul := l.ref(userID)
	select {
	case ul.ch <- struct{}{}:
		return true
	default:
		l.unref(userID, ul)
		return false
	}
}

// Unlock releases a lock acquired with Lock or TryLock.
func (l *Locker) Unlock(userID int64) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	l.mu.Unlock()
	if !ok {
		panic("session: unlock of unlocked user")
	}
	<-ul.ch
	l.unref(userID, ul)
}

// Len reports how many users currently have a lock entry.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) ref(userID int64) *userLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	return ul
}

func (l *Locker) unref(userID int64, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}
