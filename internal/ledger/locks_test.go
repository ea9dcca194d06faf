package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestLocks_SerializesSameKey(t *testing.T) {
	l := NewLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1")
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
	if n := l.size(); n != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", n)
	}
}

func TestLocks_PairOrderingAvoidsDeadlock(t *testing.T) {
	l := NewLocks()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.LockPair("a", "b")()
		}()
		go func() {
			defer wg.Done()
			l.LockPair("b", "a")()
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite LockPair calls deadlocked")
	}
}

func TestLocks_PairSameKey(t *testing.T) {
	l := NewLocks()
	unlock := l.LockPair("a", "a")
	unlock()
	if n := l.size(); n != 0 {
		t.Fatalf("expected empty table, got %d", n)
	}
}
