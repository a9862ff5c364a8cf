package auction

import "sync"

// lockTable hands out one mutex per listing so bids on different listings never contend
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*listingLock
}

type listingLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]*listingLock)}
}

// lock blocks until the caller holds the listing's mutex and returns the release func
func (t *lockTable) lock(listingID int64) func() {
	t.mu.Lock()
	l, ok := t.locks[listingID]
	if !ok {
		l = &listingLock{}
		t.locks[listingID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, listingID)
		}
		t.mu.Unlock()
	}
}

// size returns the number of listings with a held or pending lock
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
