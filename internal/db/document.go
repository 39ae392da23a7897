package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/realtime-docstore/internal/codec"
	"github.com/example/realtime-docstore/internal/storage"
)

// UpdateType selects the per-field operator applied by an update query.
type UpdateType string

const (
	UpdateValue     UpdateType = "value"
	UpdateTimestamp UpdateType = "timestamp"
	UpdateIncrement UpdateType = "increment"
	UpdatePush      UpdateType = "push"
)

// UpdateOp is one field operation inside an update query. The field path is
// the map key: dot-separated nested traversal, creating intermediate maps as
// needed.
type UpdateOp struct {
	Type  UpdateType `json:"type"`
	Value any        `json:"value,omitempty"`
}

// documentQuery executes operations addressed to a single document.
type documentQuery struct {
	baseQuery
}

func newDocumentQuery(database *Database, session *Session, query Query, live bool) (*documentQuery, error) {
	base, err := newBaseQuery(database, session, query)
	if err != nil {
		return nil, err
	}
	q := &documentQuery{baseQuery: base}
	if live {
		return q, nil
	}

	switch query.Type {
	case QueryGet:
		q.permission = OpRead
		q.exec = q.get
	case QuerySet:
		q.createCollection = true
		q.needDocument = true
		q.batchCompatible = true
		q.permission = OpWrite
		q.exec = q.set
	case QueryUpdate:
		q.createCollection = true
		q.needDocument = true
		q.batchCompatible = true
		q.permission = OpWrite
		q.exec = q.update
	case QueryDelete:
		q.needDocument = true
		q.batchCompatible = true
		q.permission = OpWrite
		q.exec = q.delete
	default:
		return nil, NewQueryError(fmt.Sprintf("invalid document query type %q", query.Type))
	}
	return q, nil
}

func (q *documentQuery) get(_ context.Context, collection, document string, _ storage.Batch, _ string) (any, error) {
	if collection == "" || document == "" {
		return nil, nil
	}
	return q.getDoc(collection, document)
}

func (q *documentQuery) set(ctx context.Context, collection, document string, batch storage.Batch, collectionKey string) (any, error) {
	if q.query.Data == nil {
		return q.delete(ctx, collection, document, batch, collectionKey)
	}

	existing, err := q.getDoc(collection, document)
	if err != nil {
		return nil, err
	}

	encoded, err := codec.Encode(q.query.Data)
	if err != nil {
		return nil, err
	}
	batch.Put([]byte(dataKey(collection, document)), encoded)

	typ := ChangeModified
	if existing == nil {
		typ = ChangeAdded
	}
	q.recordChange(collection, document, typ, q.query.Data)
	return nil, nil
}

func (q *documentQuery) update(_ context.Context, collection, document string, batch storage.Batch, _ string) (any, error) {
	ops, err := updateOps(q.query.Data)
	if err != nil {
		return nil, err
	}

	// Reads through to storage, not the pending batch: a document written
	// earlier in the same uncommitted batch is not visible here.
	current, err := q.getDoc(collection, document)
	if err != nil {
		return nil, err
	}
	isNew := current == nil

	data, ok := current.(map[string]any)
	if !ok {
		data = make(map[string]any)
	}

	for field, op := range ops {
		if err := applyUpdateOp(data, field, op); err != nil {
			return nil, err
		}
	}

	encoded, err := codec.Encode(data)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		batch.Put([]byte(dataKey(collection, document)), encoded)
	} else {
		if err := q.db.store.Data.Put([]byte(dataKey(collection, document)), encoded); err != nil {
			return nil, err
		}
	}

	typ := ChangeModified
	if isNew {
		typ = ChangeAdded
	}
	q.recordChange(collection, document, typ, data)
	return nil, nil
}

func (q *documentQuery) delete(_ context.Context, collection, document string, batch storage.Batch, _ string) (any, error) {
	if batch != nil {
		batch.Delete([]byte(dataKey(collection, document)))
	} else {
		if err := q.db.store.Data.Delete([]byte(dataKey(collection, document))); err != nil {
			return nil, err
		}
	}
	q.recordChange(collection, document, ChangeDeleted, nil)
	return nil, nil
}

func (q *documentQuery) firstValue(ctx context.Context, collection, document string) (any, error) {
	return q.get(ctx, collection, document, nil, "")
}

func (q *documentQuery) checkChange(Change) bool { return true }

// applyUpdateOp walks the dot-separated field path, creating intermediate
// maps, and applies the operator to the final segment.
func applyUpdateOp(data map[string]any, field string, op UpdateOp) error {
	parts := strings.Split(field, ".")
	target := data
	for len(parts) > 1 {
		segment := parts[0]
		parts = parts[1:]
		next, ok := target[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			target[segment] = next
		}
		target = next
	}
	last := parts[0]

	switch op.Type {
	case UpdateValue:
		target[last] = op.Value
	case UpdateTimestamp:
		target[last] = time.Now().UnixMilli()
	case UpdateIncrement:
		current, exists := target[last]
		if !exists || current == nil {
			target[last] = op.Value
			return nil
		}
		base, ok := toNumber(current)
		if !ok {
			return NewQueryError(fmt.Sprintf("field %q is not a number", field))
		}
		addend, ok := toNumber(op.Value)
		if !ok {
			return NewQueryError(fmt.Sprintf("increment value for field %q is not a number", field))
		}
		target[last] = addNumbers(current, op.Value, base, addend)
	case UpdatePush:
		current, exists := target[last]
		if !exists || current == nil {
			target[last] = []any{op.Value}
			return nil
		}
		arr, ok := current.([]any)
		if !ok {
			return NewQueryError(fmt.Sprintf("field %q is not an array", field))
		}
		target[last] = append(arr, op.Value)
	default:
		return NewQueryError(fmt.Sprintf("invalid update operator %q", op.Type))
	}
	return nil
}

// updateOps coerces the query data of an update into field operations. The
// transport may deliver either typed ops or generic JSON maps.
func updateOps(data any) (map[string]UpdateOp, error) {
	switch ops := data.(type) {
	case map[string]UpdateOp:
		return ops, nil
	case map[string]any:
		out := make(map[string]UpdateOp, len(ops))
		for field, raw := range ops {
			entry, ok := raw.(map[string]any)
			if !ok {
				return nil, ErrMalformedQuery
			}
			typ, _ := entry["type"].(string)
			if typ == "" {
				return nil, ErrMalformedQuery
			}
			out[field] = UpdateOp{Type: UpdateType(typ), Value: entry["value"]}
		}
		return out, nil
	default:
		return nil, ErrMalformedQuery
	}
}

// toNumber reports the value as float64 when it is any numeric type.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// addNumbers keeps integer fields integral when both operands are integers,
// otherwise falls back to float addition.
func addNumbers(current, addend any, base, delta float64) any {
	if isInteger(current) && isInteger(addend) {
		return int64(base) + int64(delta)
	}
	return base + delta
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
