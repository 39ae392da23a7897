package db

import (
	"sync"
	"testing"
	"time"
)

func TestLockUncontendedAcquireReleases(t *testing.T) {
	locks := NewLockManager()

	release := locks.Acquire("coll", "doc")
	if got := len(locks.Keys()); got != 1 {
		t.Fatalf("expected 1 held key, got %d", got)
	}
	release()
	if got := len(locks.Keys()); got != 0 {
		t.Fatalf("expected lock table empty after release, got %d keys", got)
	}

	// Double release is a no-op.
	release()
}

func TestLockMutualExclusion(t *testing.T) {
	locks := NewLockManager()

	release := locks.Acquire("coll", "doc")

	acquired := make(chan func())
	go func() {
		acquired <- locks.Acquire("coll", "doc")
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case release2 := <-acquired:
		release2()
	case <-time.After(time.Second):
		t.Fatal("waiter was not resumed after release")
	}
}

func TestLockDistinctScopesDoNotBlock(t *testing.T) {
	locks := NewLockManager()

	releaseA := locks.Acquire("coll", "a")
	done := make(chan struct{})
	go func() {
		releaseB := locks.Acquire("coll", "b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent scope blocked")
	}
	releaseA()
}

func TestLockFIFOOrder(t *testing.T) {
	locks := NewLockManager()

	release := locks.Acquire("coll", "doc")

	const waiters = 5
	var mu sync.Mutex
	var order []int
	ready := make(chan struct{}, waiters)
	done := make(chan struct{})

	go func() {
		for i := 0; i < waiters; i++ {
			i := i
			go func() {
				ready <- struct{}{}
				r := locks.Acquire("coll", "doc")
				mu.Lock()
				order = append(order, i)
				finished := len(order)
				mu.Unlock()
				r()
				if finished == waiters {
					close(done)
				}
			}()
			// Give each waiter time to enqueue before starting the next so
			// the queue order matches the spawn order.
			<-ready
			time.Sleep(20 * time.Millisecond)
		}
		release()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiters did not all finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestLockConcurrentCounter(t *testing.T) {
	locks := NewLockManager()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire("coll", "doc")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected counter 50, got %d", counter)
	}
}
