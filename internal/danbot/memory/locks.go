package memory

import "sync"

// UserLocks serializes the whole message pipeline per user: two concurrent
// messages from the same user run read → reply → append one after the other,
// while unrelated users proceed independently. Locks are created lazily and
// never released from the map; the user population is small and stable.
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks creates an empty lock registry.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for userID and returns the unlock function.
//
//	defer locks.Lock(userID)()
func (u *UserLocks) Lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[userID] = l
	}
	u.mu.Unlock()

	l.Lock()
	return l.Unlock
}
