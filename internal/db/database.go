// Package db implements the document database engine: path resolution and
// the collection registry, per-path locking, the query engine, the batched
// transaction orchestrator and the change notification hub.
package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/realtime-docstore/internal/storage"
)

// ChangeType classifies a document transition.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Change records one document mutation produced by a transaction. Changes
// are never persisted, only broadcast to live subscriptions.
type Change struct {
	Collection string     `json:"collection"`
	Document   string     `json:"document"`
	Type       ChangeType `json:"type"`
	Data       any        `json:"data"`
	Sender     string     `json:"sender"`
}

// CollectionEventType classifies collection lifecycle transitions.
type CollectionEventType string

const (
	CollectionCreated CollectionEventType = "create"
	CollectionDeleted CollectionEventType = "delete"
)

// CollectionEvent signals that a collection key was minted or dropped. Live
// queries against not-yet-existing collections use it to attach once their
// target appears.
type CollectionEvent struct {
	Key  string
	ID   string
	Type CollectionEventType
}

// Resolved is the outcome of mapping a logical path onto storage
// identifiers. Collection is empty when the collection does not exist and
// creation was not requested.
type Resolved struct {
	Collection    string
	Document      string
	CollectionKey string
}

type changeListener struct {
	fn func([]Change)
}

type collectionEventListener struct {
	fn func(CollectionEvent)
}

type hubEvent struct {
	changes    []Change
	collection *CollectionEvent
}

// Database owns one storage directory: its collection registry, lock tables,
// notification hub and the active permission engine. One instance exists per
// directory; construct with New or NewMemory and release with Stop.
type Database struct {
	path   string
	store  *storage.DBSet
	logger zerolog.Logger

	locks           *LockManager
	collectionLocks *LockManager

	rulesMu sync.RWMutex
	rules   PermissionEngine

	listenerMu          sync.Mutex
	changeListeners     map[string]map[*changeListener]struct{}
	collectionListeners map[*collectionEventListener]struct{}

	hubMu     sync.RWMutex
	hubClosed bool
	events    chan hubEvent
	hubDone   chan struct{}
}

// New opens (or creates) the database stored under dir. A nil engine allows
// everything; servers typically start with DenyAll and install compiled
// rules afterwards.
func New(dir string, engine PermissionEngine, logger zerolog.Logger) (*Database, error) {
	store, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}
	return newDatabase(dir, store, engine, logger), nil
}

// NewMemory creates a database backed by in-memory storage. Used by tests
// and ephemeral databases; Delete has nothing to remove from disk.
func NewMemory(engine PermissionEngine, logger zerolog.Logger) (*Database, error) {
	store, err := storage.OpenMemory()
	if err != nil {
		return nil, err
	}
	return newDatabase("", store, engine, logger), nil
}

func newDatabase(dir string, store *storage.DBSet, engine PermissionEngine, logger zerolog.Logger) *Database {
	if engine == nil {
		engine = AllowAll{}
	}
	d := &Database{
		path:                dir,
		store:               store,
		logger:              logger,
		locks:               NewLockManager(),
		collectionLocks:     NewLockManager(),
		rules:               engine,
		changeListeners:     make(map[string]map[*changeListener]struct{}),
		collectionListeners: make(map[*collectionEventListener]struct{}),
		events:              make(chan hubEvent, 64),
		hubDone:             make(chan struct{}),
	}
	go d.dispatchLoop()
	return d
}

// Rules returns the active permission engine.
func (d *Database) Rules() PermissionEngine {
	d.rulesMu.RLock()
	defer d.rulesMu.RUnlock()
	return d.rules
}

// SetRules swaps the active permission engine. A nil engine restores the
// allow-all default.
func (d *Database) SetRules(engine PermissionEngine) {
	if engine == nil {
		engine = AllowAll{}
	}
	d.rulesMu.Lock()
	d.rules = engine
	d.rulesMu.Unlock()
}

// Resolve maps a path onto (collectionID, documentID, collectionKey),
// minting the collection id when create is set. The per-key collection lock
// guarantees at most one id is ever minted per key; creation is announced
// asynchronously to collection lifecycle listeners.
func (d *Database) Resolve(ctx context.Context, path []string, create bool) (Resolved, error) {
	segments := append([]string{}, path...)
	document := ""
	if len(segments)%2 == 0 && len(segments) > 0 {
		document = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}
	key := strings.Join(segments, "/")

	release := d.collectionLocks.Acquire(key, "")
	defer release()

	collection := ""
	raw, err := d.store.Collections.Get([]byte(key))
	switch {
	case err == nil:
		collection = string(raw)
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Resolved{}, fmt.Errorf("resolve collection %q: %w", key, err)
	}

	if collection == "" && create {
		collection = newDocumentID()
		if err := d.store.Collections.Put([]byte(key), []byte(collection)); err != nil {
			return Resolved{}, fmt.Errorf("create collection %q: %w", key, err)
		}
		d.logger.Debug().Str("key", key).Str("collection", collection).Msg("collection created")
		d.emitCollectionEvent(CollectionEvent{Key: key, ID: collection, Type: CollectionCreated})
	}

	return Resolved{Collection: collection, Document: document, CollectionKey: key}, nil
}

type resolveTarget struct {
	path     []string
	create   bool
	resolved Resolved
}

// Run executes one or more queries as a single transaction: paths are
// resolved and locked in ascending path-length order, every query runs
// against one shared write batch, and accumulated changes are published
// after the commit. Either every write becomes observable or none does.
//
// Reads inside the transaction go through to storage, so a query does not
// observe writes queued earlier in the same uncommitted batch.
//
// A single query returns its bare result; a batch returns []any in call
// order.
func (d *Database) Run(ctx context.Context, queries []Query, session *Session) (any, error) {
	ctx, span := tracer.Start(ctx, "db.run")
	span.SetAttributes(attribute.Int("db.query_count", len(queries)))
	defer span.End()

	if len(queries) == 0 {
		return nil, ErrMalformedQuery
	}
	isBatch := len(queries) > 1

	var targets []*resolveTarget
	addTarget := func(path []string, create bool) *resolveTarget {
		for _, entry := range targets {
			if samePath(entry.path, path) {
				entry.create = entry.create || create
				return entry
			}
		}
		entry := &resolveTarget{path: path, create: create}
		targets = append(targets, entry)
		return entry
	}

	type boundQuery struct {
		target *resolveTarget
		query  preparedQuery
	}
	parsed := make([]boundQuery, 0, len(queries))
	for _, raw := range queries {
		d.logger.Debug().Str("type", string(raw.Type)).Strs("path", raw.Path).Msg("running query")
		query, err := newPreparedQuery(d, session, raw, false)
		if err != nil {
			return nil, err
		}
		base := query.base()
		if isBatch && !base.batchCompatible {
			return nil, ErrNotBatchCompatible
		}

		target := addTarget(raw.Path, base.createCollection)
		if base.additionalLock != nil {
			addTarget(base.additionalLock, false)
		}
		parsed = append(parsed, boundQuery{target: target, query: query})
	}

	// Fixed global acquisition order: shorter paths first. Any two
	// transactions sharing paths lock them in the same order, so no cycle
	// can form.
	sort.SliceStable(targets, func(i, j int) bool {
		return len(targets[i].path) < len(targets[j].path)
	})

	releases := make([]func(), 0, len(targets))
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	for _, target := range targets {
		resolved, err := d.Resolve(ctx, target.path, target.create)
		if err != nil {
			return nil, err
		}
		target.resolved = resolved
		releases = append(releases, d.locks.Acquire(resolved.Collection, resolved.Document))
	}

	batch := d.store.Data.NewBatch()
	results := make([]any, 0, len(parsed))
	var changes []Change
	for _, bound := range parsed {
		resolved := bound.target.resolved
		result, err := bound.query.run(ctx, resolved.Collection, resolved.Document, batch, resolved.CollectionKey)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
		changes = append(changes, bound.query.base().changes...)
	}

	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return nil, fmt.Errorf("commit batch: %w", err)
		}
	}
	d.sendChanges(changes)

	if isBatch {
		return results, nil
	}
	return results[0], nil
}

// sendChanges hands a transaction's changes to the notification hub. The hub
// groups them by collection and document and delivers asynchronously, after
// the triggering call returns.
func (d *Database) sendChanges(changes []Change) {
	if len(changes) == 0 {
		return
	}
	changesPublished.Add(float64(len(changes)))
	d.publish(hubEvent{changes: changes})
}

func (d *Database) emitCollectionEvent(event CollectionEvent) {
	d.publish(hubEvent{collection: &event})
}

func (d *Database) publish(event hubEvent) {
	d.hubMu.RLock()
	defer d.hubMu.RUnlock()
	if d.hubClosed {
		return
	}
	d.events <- event
}

// dispatchLoop is the hub's single delivery goroutine: it preserves the
// order in which transactions published their changes.
func (d *Database) dispatchLoop() {
	defer close(d.hubDone)
	for event := range d.events {
		if event.collection != nil {
			d.deliverCollectionEvent(*event.collection)
			continue
		}
		d.deliverChanges(event.changes)
	}
}

func (d *Database) deliverCollectionEvent(event CollectionEvent) {
	d.listenerMu.Lock()
	listeners := make([]*collectionEventListener, 0, len(d.collectionListeners))
	for listener := range d.collectionListeners {
		listeners = append(listeners, listener)
	}
	d.listenerMu.Unlock()

	for _, listener := range listeners {
		listener.fn(event)
	}
}

func (d *Database) deliverChanges(changes []Change) {
	grouped := make(map[string]map[string][]Change)
	order := []string{}
	for _, change := range changes {
		documents, ok := grouped[change.Collection]
		if !ok {
			documents = make(map[string][]Change)
			grouped[change.Collection] = documents
			order = append(order, change.Collection)
		}
		documents[change.Document] = append(documents[change.Document], change)
	}

	for _, collection := range order {
		var collectionChanges []Change
		for document, documentChanges := range grouped[collection] {
			for _, listener := range d.listenersFor(dataKey(collection, document)) {
				listener.fn(documentChanges)
			}
			collectionChanges = append(collectionChanges, documentChanges...)
		}
		for _, listener := range d.listenersFor(dataKey(collection, "")) {
			listener.fn(collectionChanges)
		}
	}
}

func (d *Database) listenersFor(key string) []*changeListener {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	set := d.changeListeners[key]
	listeners := make([]*changeListener, 0, len(set))
	for listener := range set {
		listeners = append(listeners, listener)
	}
	return listeners
}

func (d *Database) addChangeListener(key string, listener *changeListener) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	set := d.changeListeners[key]
	if set == nil {
		set = make(map[*changeListener]struct{})
		d.changeListeners[key] = set
	}
	set[listener] = struct{}{}
}

func (d *Database) removeChangeListener(key string, listener *changeListener) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	set := d.changeListeners[key]
	if set == nil {
		return
	}
	delete(set, listener)
	if len(set) == 0 {
		delete(d.changeListeners, key)
	}
}

func (d *Database) subscribeCollectionEvents(fn func(CollectionEvent)) func() {
	listener := &collectionEventListener{fn: fn}
	d.listenerMu.Lock()
	d.collectionListeners[listener] = struct{}{}
	d.listenerMu.Unlock()
	return func() {
		d.listenerMu.Lock()
		delete(d.collectionListeners, listener)
		d.listenerMu.Unlock()
	}
}

// RunCleanup removes stored data under collection ids that have no registry
// entry and returns the removed ids. Safe to run online; concurrent writes
// to a collection mid-cleanup are a best-effort race, not a deadlock.
func (d *Database) RunCleanup(ctx context.Context) ([]string, error) {
	known := make(map[string]struct{})
	it := d.store.Collections.ScanAll()
	for it.Next() {
		known[string(it.Value())] = struct{}{}
	}
	err := it.Err()
	it.Release()
	if err != nil {
		return nil, fmt.Errorf("scan collection registry: %w", err)
	}

	present := make(map[string]struct{})
	it = d.store.Data.ScanAll()
	for it.Next() {
		collection, _, found := strings.Cut(string(it.Key()), "/")
		if found {
			present[collection] = struct{}{}
		}
	}
	err = it.Err()
	it.Release()
	if err != nil {
		return nil, fmt.Errorf("scan data keyspace: %w", err)
	}

	var removed []string
	for collection := range present {
		if _, ok := known[collection]; ok {
			continue
		}
		batch := d.store.Data.NewBatch()
		docs := d.store.Data.Scan([]byte(dataKey(collection, "")))
		for docs.Next() {
			batch.Delete(append([]byte{}, docs.Key()...))
		}
		err := docs.Err()
		docs.Release()
		if err != nil {
			return nil, fmt.Errorf("scan orphaned collection %q: %w", collection, err)
		}
		if err := batch.Write(); err != nil {
			return nil, fmt.Errorf("delete orphaned collection %q: %w", collection, err)
		}
		removed = append(removed, collection)
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		d.logger.Info().Strs("collections", removed).Msg("cleanup removed orphaned collections")
	}
	return removed, nil
}

// Stop shuts down the notification hub and closes the storage keyspaces.
func (d *Database) Stop() error {
	d.hubMu.Lock()
	if !d.hubClosed {
		d.hubClosed = true
		close(d.events)
	}
	d.hubMu.Unlock()
	<-d.hubDone

	return d.store.Close()
}

// Delete stops the database and removes its on-disk data.
func (d *Database) Delete() error {
	if err := d.Stop(); err != nil {
		return err
	}
	if d.path == "" {
		return nil
	}
	return storage.Destroy(d.path)
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
