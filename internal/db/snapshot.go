package db

import (
	"context"
	"strings"
	"sync"
)

// SnapshotChange is one change delivered to a live query subscriber.
type SnapshotChange struct {
	ID   string     `json:"id"`
	Data any        `json:"data"`
	Type ChangeType `json:"type"`
}

// SnapshotResult carries the subscription id and the initial value of a live
// query.
type SnapshotResult struct {
	ID    string
	Value any
}

// Snapshot registers a live query: it evaluates read permission, resolves
// the path, returns the current value and delivers future matching changes
// to onChange until the subscription is released.
//
// A snapshot against a collection that does not exist yet attaches to the
// registry's creation events and re-targets itself once the collection key
// is minted.
func (d *Database) Snapshot(ctx context.Context, raw Query, session *Session, onChange func([]SnapshotChange)) (SnapshotResult, error) {
	d.logger.Debug().Strs("path", raw.Path).Msg("snapshot request")

	query, err := newPreparedQuery(d, session, raw, true)
	if err != nil {
		return SnapshotResult{}, err
	}
	if !d.Rules().HasPermission(raw.Path, OpRead, session) {
		return SnapshotResult{}, ErrNoPermission
	}

	// The collection key is derivable from the path alone, so the lifecycle
	// listener can be registered before resolution without missing a
	// concurrent creation.
	segments := raw.Path
	document := ""
	if len(segments)%2 == 0 {
		document = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}
	collectionKey := strings.Join(segments, "/")

	listener := &changeListener{fn: func(changes []Change) {
		var matched []SnapshotChange
		for _, change := range changes {
			if !query.checkChange(change) {
				continue
			}
			matched = append(matched, SnapshotChange{ID: change.Document, Data: change.Data, Type: change.Type})
		}
		if len(matched) > 0 {
			onChange(matched)
		}
	}}

	var mu sync.Mutex
	currentKey := ""
	detach := func() {
		mu.Lock()
		defer mu.Unlock()
		if currentKey == "" {
			return
		}
		d.removeChangeListener(currentKey, listener)
		currentKey = ""
	}
	attach := func(collection string) {
		mu.Lock()
		defer mu.Unlock()
		key := dataKey(collection, document)
		if key == currentKey {
			return
		}
		if currentKey != "" {
			d.removeChangeListener(currentKey, listener)
		}
		d.addChangeListener(key, listener)
		currentKey = key
	}

	unsubscribeEvents := d.subscribeCollectionEvents(func(event CollectionEvent) {
		if event.Key != collectionKey {
			return
		}
		switch event.Type {
		case CollectionCreated:
			attach(event.ID)
		case CollectionDeleted:
			// Contained documents get no synthetic deleted events; the
			// subscription simply detaches until the key is recreated.
			detach()
		}
	})

	resolved, err := d.Resolve(ctx, raw.Path, false)
	if err != nil {
		unsubscribeEvents()
		return SnapshotResult{}, err
	}
	if resolved.Collection != "" {
		attach(resolved.Collection)
	}

	value, err := query.firstValue(ctx, resolved.Collection, resolved.Document)
	if err != nil {
		unsubscribeEvents()
		detach()
		return SnapshotResult{}, err
	}

	id := newSubscriptionID()
	session.addSubscription(id, func() {
		unsubscribeEvents()
		detach()
		subscriptionsActive.Dec()
	})
	subscriptionsActive.Inc()

	return SnapshotResult{ID: id, Value: value}, nil
}

// Unsubscribe releases the subscription registered under id. Unknown ids are
// ignored.
func (d *Database) Unsubscribe(id string, session *Session) {
	if unsubscribe := session.removeSubscription(id); unsubscribe != nil {
		unsubscribe()
	}
}
