package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/example/realtime-docstore/internal/codec"
	"github.com/example/realtime-docstore/internal/storage"
)

// QueryType tags the operation a query performs. Document paths (even
// length) accept get, set, update and delete; collection paths (odd length)
// accept add, get, keys, list and delete-collection.
type QueryType string

const (
	QueryGet              QueryType = "get"
	QuerySet              QueryType = "set"
	QueryUpdate           QueryType = "update"
	QueryDelete           QueryType = "delete"
	QueryAdd              QueryType = "add"
	QueryKeys             QueryType = "keys"
	QueryList             QueryType = "list"
	QueryDeleteCollection QueryType = "delete-collection"
)

// Query is one operation against the database, addressed by its path.
type Query struct {
	Path    []string      `json:"path"`
	Type    QueryType     `json:"type"`
	Data    any           `json:"data,omitempty"`
	Options *QueryOptions `json:"options,omitempty"`
}

// QueryOptions carries the filter and limit of a collection get.
type QueryOptions struct {
	Where []Where `json:"where,omitempty"`
	Limit int     `json:"limit,omitempty"`
}

// DocResult pairs a document id with its decoded value in collection query
// results and snapshot deliveries.
type DocResult struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

const maxPathDepth = 10

var pathSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-<>]+$`)

func validatePath(path []string) error {
	if len(path) == 0 {
		return ErrMalformedQuery
	}
	if len(path) > maxPathDepth {
		return ErrPathTooDeep
	}
	for _, segment := range path {
		if !pathSegmentPattern.MatchString(segment) {
			return ErrInvalidPath
		}
	}
	return nil
}

// runner executes a prepared query against resolved identifiers and the
// transaction's shared write batch.
type runner func(ctx context.Context, collection, document string, batch storage.Batch, collectionKey string) (any, error)

// preparedQuery is the common interface of document and collection queries.
type preparedQuery interface {
	// run checks permission and executes the query.
	run(ctx context.Context, collection, document string, batch storage.Batch, collectionKey string) (any, error)

	// firstValue computes the initial value delivered by a snapshot.
	firstValue(ctx context.Context, collection, document string) (any, error)

	// checkChange filters incoming changes for live queries.
	checkChange(change Change) bool

	base() *baseQuery
}

// baseQuery holds the state shared by document and collection queries. Each
// instance is scoped to one logical call and owns its accumulated changes.
type baseQuery struct {
	db      *Database
	session *Session
	query   Query

	changes []Change

	createCollection bool
	needDocument     bool
	batchCompatible  bool
	permission       Operation
	additionalLock   []string
	exec             runner
}

func newBaseQuery(database *Database, session *Session, query Query) (baseQuery, error) {
	if query.Type == "" || query.Path == nil {
		return baseQuery{}, ErrMalformedQuery
	}
	if err := validatePath(query.Path); err != nil {
		return baseQuery{}, err
	}
	return baseQuery{db: database, session: session, query: query}, nil
}

func (q *baseQuery) base() *baseQuery { return q }

func (q *baseQuery) run(ctx context.Context, collection, document string, batch storage.Batch, collectionKey string) (any, error) {
	if !q.db.Rules().HasPermission(q.query.Path, q.permission, q.session) {
		return nil, ErrNoPermission
	}

	start := time.Now()
	result, err := q.exec(ctx, collection, document, batch, collectionKey)
	queryLatency.WithLabelValues(string(q.query.Type)).Observe(time.Since(start).Seconds())
	return result, err
}

// getDoc reads and decodes a stored document, returning nil when the
// collection or document does not exist.
func (q *baseQuery) getDoc(collection, document string) (any, error) {
	raw, err := q.db.store.Data.Get([]byte(dataKey(collection, document)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return codec.Decode(raw)
}

func (q *baseQuery) recordChange(collection, document string, typ ChangeType, data any) {
	q.changes = append(q.changes, Change{
		Collection: collection,
		Document:   document,
		Type:       typ,
		Data:       data,
		Sender:     q.session.ID,
	})
}

// newPreparedQuery classifies the path parity and constructs the matching
// query kind. live queries skip preparation; they only serve snapshots.
func newPreparedQuery(database *Database, session *Session, query Query, live bool) (preparedQuery, error) {
	if len(query.Path)%2 == 1 {
		return newCollectionQuery(database, session, query, live)
	}
	return newDocumentQuery(database, session, query, live)
}

// dataKey forms the storage key of a document, or the collection prefix when
// document is empty.
func dataKey(collection, document string) string {
	return collection + "/" + document
}
