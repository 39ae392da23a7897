package db

import (
	"sync"
	"time"
)

// LockManager grants exclusive, FIFO-ordered access to string-keyed scopes.
// Document locks use "collectionID/documentID" keys, collection locks use the
// collection key. There is no reentrancy: acquiring the same scope twice
// without releasing deadlocks, which upstream lock deduplication prevents.
type LockManager struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{queues: make(map[string][]chan struct{})}
}

// Keys returns the scope keys currently held or contended. Used by
// diagnostics only.
func (m *LockManager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.queues))
	for key := range m.queues {
		keys = append(keys, key)
	}
	return keys
}

// Acquire blocks until the caller holds the scope formed from collection and
// document, then returns the release function. Waiters are resumed in FIFO
// order; release never runs a waiter synchronously inside the releaser's
// critical section. The returned function is safe to call once per Acquire.
func (m *LockManager) Acquire(collection, document string) func() {
	key := collection + "/" + document
	start := time.Now()

	m.mu.Lock()
	if queue, contended := m.queues[key]; contended {
		ready := make(chan struct{})
		m.queues[key] = append(queue, ready)
		m.mu.Unlock()
		<-ready
	} else {
		m.queues[key] = nil
		m.mu.Unlock()
	}

	lockWaitSeconds.Observe(time.Since(start).Seconds())
	locksHeld.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.release(key)
			locksHeld.Dec()
		})
	}
}

func (m *LockManager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[key]
	if len(queue) == 0 {
		delete(m.queues, key)
		return
	}
	next := queue[0]
	m.queues[key] = queue[1:]
	close(next)
}
