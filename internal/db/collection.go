package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/realtime-docstore/internal/codec"
	"github.com/example/realtime-docstore/internal/storage"
)

// WhereOp enumerates the filter operators of a collection get.
type WhereOp string

const (
	WhereLess          WhereOp = "<"
	WhereLessEqual     WhereOp = "<="
	WhereEqual         WhereOp = "=="
	WhereGreaterEqual  WhereOp = ">="
	WhereGreater       WhereOp = ">"
	WhereArrayContains WhereOp = "array-contains"
	WhereIn            WhereOp = "in"
)

// Where is one filter clause: a dot-separated field path, an operator and a
// comparison value. On the wire it is either the compact array form
// ["field", "op", value] or the verbose {fieldPath, opStr, value} object.
type Where struct {
	Field string
	Op    WhereOp
	Value any
}

// UnmarshalJSON accepts both wire forms.
func (w *Where) UnmarshalJSON(data []byte) error {
	var compact []json.RawMessage
	if err := json.Unmarshal(data, &compact); err == nil {
		if len(compact) != 3 {
			return ErrMalformedQuery
		}
		var field, op string
		if err := json.Unmarshal(compact[0], &field); err != nil {
			return ErrMalformedQuery
		}
		if err := json.Unmarshal(compact[1], &op); err != nil {
			return ErrMalformedQuery
		}
		var value any
		if err := json.Unmarshal(compact[2], &value); err != nil {
			return ErrMalformedQuery
		}
		*w = Where{Field: field, Op: WhereOp(op), Value: value}
		return nil
	}

	var verbose struct {
		FieldPath *string `json:"fieldPath"`
		OpStr     *string `json:"opStr"`
		Value     any     `json:"value"`
	}
	if err := json.Unmarshal(data, &verbose); err != nil {
		return ErrMalformedQuery
	}
	if verbose.FieldPath == nil || verbose.OpStr == nil {
		return ErrMalformedQuery
	}
	*w = Where{Field: *verbose.FieldPath, Op: WhereOp(*verbose.OpStr), Value: verbose.Value}
	return nil
}

// collectionQuery executes operations addressed to a whole collection.
type collectionQuery struct {
	baseQuery

	where []Where
	limit int

	addID string
}

func newCollectionQuery(database *Database, session *Session, query Query, live bool) (*collectionQuery, error) {
	base, err := newBaseQuery(database, session, query)
	if err != nil {
		return nil, err
	}
	q := &collectionQuery{baseQuery: base, limit: -1}
	if query.Options != nil {
		q.where = query.Options.Where
		if query.Options.Limit > 0 {
			q.limit = query.Options.Limit
		}
	}
	if live {
		return q, nil
	}

	switch query.Type {
	case QueryAdd:
		q.addID = newDocumentID()
		q.createCollection = true
		q.batchCompatible = true
		q.permission = OpWrite
		q.additionalLock = append(append([]string{}, query.Path...), q.addID)
		q.exec = q.add
	case QueryGet:
		q.permission = OpRead
		q.exec = q.get
	case QueryKeys:
		q.permission = OpList
		q.exec = q.keys
	case QueryList:
		q.permission = OpRead
		q.exec = q.keys
	case QueryDeleteCollection:
		q.permission = OpWrite
		q.exec = q.deleteCollection
	default:
		return nil, NewQueryError(fmt.Sprintf("invalid collection query type %q", query.Type))
	}
	return q, nil
}

// add delegates to a document set against the freshly generated id and
// returns the id. The id is covered by the additional lock acquired by the
// orchestrator before execution.
func (q *collectionQuery) add(ctx context.Context, collection, _ string, batch storage.Batch, collectionKey string) (any, error) {
	set, err := newDocumentQuery(q.db, q.session, Query{
		Path: q.additionalLock,
		Type: QuerySet,
		Data: q.query.Data,
	}, false)
	if err != nil {
		return nil, err
	}
	if _, err := set.run(ctx, collection, q.addID, batch, collectionKey); err != nil {
		return nil, err
	}
	q.changes = set.changes
	return q.addID, nil
}

// get scans the collection's key range, decoding each value and applying the
// filter clauses, stopping early once the limit is satisfied.
func (q *collectionQuery) get(_ context.Context, collection, _ string, _ storage.Batch, _ string) (any, error) {
	results := []DocResult{}
	if collection == "" {
		return results, nil
	}

	it := q.db.store.Data.Scan([]byte(dataKey(collection, "")))
	defer it.Release()
	for it.Next() {
		id, ok := documentSuffix(it.Key())
		if !ok {
			continue
		}
		data, err := codec.Decode(it.Value())
		if err != nil {
			return nil, err
		}
		ok, err = fitsWhere(q.where, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, DocResult{ID: id, Data: data})
		if q.limit >= 0 && len(results) >= q.limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	return results, nil
}

// keys scans key-only and returns the document-id suffix of every key under
// the collection.
func (q *collectionQuery) keys(_ context.Context, collection, _ string, _ storage.Batch, _ string) (any, error) {
	keys := []string{}
	if collection == "" {
		return keys, nil
	}

	it := q.db.store.Data.Scan([]byte(dataKey(collection, "")))
	defer it.Release()
	for it.Next() {
		if id, ok := documentSuffix(it.Key()); ok {
			keys = append(keys, id)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("scan collection keys: %w", err)
	}
	return keys, nil
}

// deleteCollection is root-only: it removes every document in one batch,
// drops the registry mapping and signals the collection lifecycle listeners.
// Contained documents do not receive individual deleted events.
func (q *collectionQuery) deleteCollection(ctx context.Context, collection, _ string, _ storage.Batch, collectionKey string) (any, error) {
	if !q.session.Root {
		return nil, ErrNoPermission
	}
	if collection == "" {
		return nil, nil
	}

	raw, err := q.keys(ctx, collection, "", nil, "")
	if err != nil {
		return nil, err
	}

	batch := q.db.store.Data.NewBatch()
	for _, document := range raw.([]string) {
		batch.Delete([]byte(dataKey(collection, document)))
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("delete collection data: %w", err)
	}
	if err := q.db.store.Collections.Delete([]byte(collectionKey)); err != nil {
		return nil, fmt.Errorf("delete collection mapping: %w", err)
	}

	q.db.emitCollectionEvent(CollectionEvent{Key: collectionKey, ID: collection, Type: CollectionDeleted})
	return nil, nil
}

func (q *collectionQuery) firstValue(ctx context.Context, collection, _ string) (any, error) {
	return q.get(ctx, collection, "", nil, "")
}

// checkChange filters an incoming change against the live query's original
// where clauses before forwarding.
func (q *collectionQuery) checkChange(change Change) bool {
	ok, err := fitsWhere(q.where, change.Data)
	return err == nil && ok
}

// documentSuffix extracts the document id from a "collectionID/documentID"
// storage key.
func documentSuffix(key []byte) (string, bool) {
	parts := strings.SplitN(string(key), "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func fitsWhere(clauses []Where, data any) (bool, error) {
	for _, clause := range clauses {
		value := fieldValue(data, clause.Field)
		ok, err := matchWhere(clause.Op, value, clause.Value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// fieldValue traverses a dot-separated field path; absent segments yield nil.
func fieldValue(data any, path string) any {
	current := data
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[segment]
		if current == nil {
			return nil
		}
	}
	return current
}

func matchWhere(op WhereOp, value, want any) (bool, error) {
	switch op {
	case WhereEqual:
		return looseEqual(value, want), nil
	case WhereLess, WhereLessEqual, WhereGreaterEqual, WhereGreater:
		cmp, ok := looseCompare(value, want)
		if !ok {
			return false, nil
		}
		switch op {
		case WhereLess:
			return cmp < 0, nil
		case WhereLessEqual:
			return cmp <= 0, nil
		case WhereGreaterEqual:
			return cmp >= 0, nil
		default:
			return cmp > 0, nil
		}
	case WhereArrayContains:
		arr, ok := value.([]any)
		if !ok {
			return false, nil
		}
		for _, element := range arr {
			if looseEqual(element, want) {
				return true, nil
			}
		}
		return false, nil
	case WhereIn:
		candidates, ok := want.([]any)
		if !ok {
			return false, nil
		}
		for _, candidate := range candidates {
			if looseEqual(value, candidate) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, NewQueryError(fmt.Sprintf("invalid where operator %q", op))
	}
}

// looseEqual compares scalars with numeric coercion so values decoded from
// the binary codec compare equal to values arriving as JSON.
func looseEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

// looseCompare orders two values when both are numbers or both strings.
func looseCompare(a, b any) (int, bool) {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}
