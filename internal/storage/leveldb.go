package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DBSet bundles the two independent keyspaces used by a database: document
// data and the collectionKey->collectionID registry.
type DBSet struct {
	Data        KV
	Collections KV
}

// Open creates or opens the on-disk keyspaces under dir.
func Open(dir string) (*DBSet, error) {
	if dir == "" {
		return nil, errors.New("empty database directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	data, err := leveldb.OpenFile(filepath.Join(dir, "data"), nil)
	if err != nil {
		return nil, fmt.Errorf("open data keyspace: %w", err)
	}
	collections, err := leveldb.OpenFile(filepath.Join(dir, "collection"), nil)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("open collection keyspace: %w", err)
	}

	return &DBSet{Data: &levelKV{db: data}, Collections: &levelKV{db: collections}}, nil
}

// OpenMemory returns a DBSet backed by in-memory storage. Used by tests and
// ephemeral databases.
func OpenMemory() (*DBSet, error) {
	data, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory data keyspace: %w", err)
	}
	collections, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("open in-memory collection keyspace: %w", err)
	}
	return &DBSet{Data: &levelKV{db: data}, Collections: &levelKV{db: collections}}, nil
}

// OpenKV opens a single standalone keyspace at dir. The server uses this
// for its settings store.
func OpenKV(dir string) (KV, error) {
	if dir == "" {
		return nil, errors.New("empty keyspace directory")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open keyspace: %w", err)
	}
	return &levelKV{db: db}, nil
}

// OpenMemoryKV opens a single in-memory keyspace.
func OpenMemoryKV() (KV, error) {
	db, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory keyspace: %w", err)
	}
	return &levelKV{db: db}, nil
}

// Close closes both keyspaces, returning the first error encountered.
func (s *DBSet) Close() error {
	err := s.Data.Close()
	if cerr := s.Collections.Close(); err == nil {
		err = cerr
	}
	return err
}

// Destroy removes the on-disk representation under dir. The DBSet must be
// closed first.
func Destroy(dir string) error {
	if dir == "" {
		return errors.New("empty database directory")
	}
	return os.RemoveAll(dir)
}

// levelKV adapts a goleveldb database to the KV interface.
type levelKV struct {
	db *leveldb.DB
}

func (l *levelKV) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	readOps.Inc()
	return value, nil
}

func (l *levelKV) Put(key, value []byte) error {
	writeOps.Inc()
	return l.db.Put(key, value, nil)
}

func (l *levelKV) Delete(key []byte) error {
	writeOps.Inc()
	return l.db.Delete(key, nil)
}

func (l *levelKV) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (l *levelKV) Scan(prefix []byte) Iterator {
	return &levelIterator{it: l.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (l *levelKV) ScanAll() Iterator {
	return &levelIterator{it: l.db.NewIterator(nil, nil)}
}

func (l *levelKV) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Len() int              { return b.batch.Len() }
func (b *levelBatch) Reset()                { b.batch.Reset() }

func (b *levelBatch) Write() error {
	writeOps.Add(float64(b.batch.Len()))
	batchCommits.Inc()
	return b.db.Write(b.batch, nil)
}

type levelIterator struct {
	it iterator.Iterator
}

func (i *levelIterator) Next() bool    { return i.it.Next() }
func (i *levelIterator) Key() []byte   { return i.it.Key() }
func (i *levelIterator) Value() []byte { return i.it.Value() }
func (i *levelIterator) Err() error    { return i.it.Error() }
func (i *levelIterator) Release()      { i.it.Release() }
