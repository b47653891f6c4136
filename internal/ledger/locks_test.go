package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestLockTable_SerializesSamePlayer(t *testing.T) {
	table := newLockTable()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.lock("p1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("%d holders inside the same player's lock", maxSeen)
	}
	if table.size() != 0 {
		t.Errorf("table size = %d after release", table.size())
	}
}

func TestLockTable_DifferentPlayersDoNotBlock(t *testing.T) {
	table := newLockTable()
	unlock := table.lock("p1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := table.lock("p2")
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for p2 blocked behind p1")
	}
}
