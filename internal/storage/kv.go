package storage

import "errors"

// ErrNotFound is returned by Get when no value is stored under the key.
// Callers treat it as "absent", not as a failure.
var ErrNotFound = errors.New("storage: key not found")

// KV is an ordered byte-range key-value store. Keys iterate in ascending
// lexicographic order.
type KV interface {
	// Get returns the stored value or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// NewBatch returns an empty write batch. Queued operations become
	// visible atomically when Write is called.
	NewBatch() Batch

	// Scan iterates all keys sharing the prefix in ascending order. The
	// iterator must be released on every path, including early break.
	Scan(prefix []byte) Iterator

	// ScanAll iterates the whole keyspace in ascending order.
	ScanAll() Iterator

	Close() error
}

// Batch accumulates writes that are committed atomically.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Len reports the number of queued operations.
	Len() int

	// Write commits every queued operation in one atomic step.
	Write() error

	// Reset discards all queued operations.
	Reset()
}

// Iterator walks a key range. Usage:
//
//	it := kv.Scan(prefix)
//	defer it.Release()
//	for it.Next() { … }
//	if err := it.Err(); err != nil { … }
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Release()
}
