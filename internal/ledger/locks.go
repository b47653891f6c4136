package ledger

import "sync"

// lockTable hands out one mutex per player. Entries are reference counted
// and removed when the last holder leaves, so idle players cost nothing.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*playerLock
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*playerLock)}
}

func (t *lockTable) lock(playerID string) (unlock func()) {
	t.mu.Lock()
	pl, ok := t.locks[playerID]
	if !ok {
		pl = &playerLock{}
		t.locks[playerID] = pl
	}
	pl.refs++
	t.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		t.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(t.locks, playerID)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
