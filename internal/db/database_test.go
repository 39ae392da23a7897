package db

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	database, err := NewMemory(nil, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Stop() })
	return database
}

func runOne(t *testing.T, database *Database, session *Session, query Query) any {
	t.Helper()
	result, err := database.Run(context.Background(), []Query{query}, session)
	if err != nil {
		t.Fatalf("run %s %v: %v", query.Type, query.Path, err)
	}
	return result
}

func TestSetAndGetDocument(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	doc := map[string]any{"name": "alice", "age": int64(30)}
	runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QuerySet, Data: doc})

	got := runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QueryGet})
	if !reflect.DeepEqual(got, doc) {
		t.Fatalf("got %#v, want %#v", got, doc)
	}
}

func TestGetMissingDocumentReturnsNil(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	if got := runOne(t, database, session, Query{Path: []string{"users", "ghost"}, Type: QueryGet}); got != nil {
		t.Fatalf("expected nil for missing document, got %#v", got)
	}
}

func TestSetWithNilDataDeletes(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QuerySet, Data: map[string]any{"a": int64(1)}})
	runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QuerySet})

	if got := runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QueryGet}); got != nil {
		t.Fatalf("expected document removed, got %#v", got)
	}
}

func TestDeleteDocument(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QuerySet, Data: map[string]any{"a": int64(1)}})
	runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QueryDelete})

	if got := runOne(t, database, session, Query{Path: []string{"users", "alice"}, Type: QueryGet}); got != nil {
		t.Fatalf("expected nil after delete, got %#v", got)
	}
}

func TestAddGeneratesDocumentID(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	result := runOne(t, database, session, Query{Path: []string{"posts"}, Type: QueryAdd, Data: map[string]any{"title": "hello"}})
	id, ok := result.(string)
	if !ok || len(id) != 32 {
		t.Fatalf("expected 32 char document id, got %#v", result)
	}

	got := runOne(t, database, session, Query{Path: []string{"posts", id}, Type: QueryGet})
	if !reflect.DeepEqual(got, map[string]any{"title": "hello"}) {
		t.Fatalf("unexpected stored document: %#v", got)
	}
}

func TestKeysListsDocumentIDs(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	runOne(t, database, session, Query{Path: []string{"users", "a"}, Type: QuerySet, Data: map[string]any{"x": int64(1)}})
	runOne(t, database, session, Query{Path: []string{"users", "b"}, Type: QuerySet, Data: map[string]any{"x": int64(2)}})

	got := runOne(t, database, session, Query{Path: []string{"users"}, Type: QueryKeys})
	keys, ok := got.([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", got)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestKeysOnMissingCollectionIsEmpty(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	got := runOne(t, database, session, Query{Path: []string{"nothing"}, Type: QueryKeys})
	keys, ok := got.([]string)
	if !ok || len(keys) != 0 {
		t.Fatalf("expected empty key list, got %#v", got)
	}
}

func TestBatchCommitsAllWrites(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	results, err := database.Run(context.Background(), []Query{
		{Path: []string{"accounts", "a"}, Type: QuerySet, Data: map[string]any{"balance": int64(50)}},
		{Path: []string{"accounts", "b"}, Type: QuerySet, Data: map[string]any{"balance": int64(150)}},
	}, session)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	list, ok := results.([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected 2 results, got %#v", results)
	}

	for _, name := range []string{"a", "b"} {
		if got := runOne(t, database, session, Query{Path: []string{"accounts", name}, Type: QueryGet}); got == nil {
			t.Fatalf("document %s missing after batch", name)
		}
	}
}

func TestBatchRejectsReads(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	_, err := database.Run(context.Background(), []Query{
		{Path: []string{"accounts", "a"}, Type: QuerySet, Data: map[string]any{"x": int64(1)}},
		{Path: []string{"accounts", "a"}, Type: QueryGet},
	}, session)
	if !errors.Is(err, ErrNotBatchCompatible) {
		t.Fatalf("expected ErrNotBatchCompatible, got %v", err)
	}
}

func TestBatchFailureCommitsNothing(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	_, err := database.Run(context.Background(), []Query{
		{Path: []string{"accounts", "a"}, Type: QuerySet, Data: map[string]any{"x": int64(1)}},
		{Path: []string{"accounts", "b"}, Type: QueryUpdate, Data: "not an update"},
	}, session)
	if err == nil {
		t.Fatal("expected batch to fail")
	}

	if got := runOne(t, database, session, Query{Path: []string{"accounts", "a"}, Type: QueryGet}); got != nil {
		t.Fatalf("failed batch leaked a write: %#v", got)
	}
}

func TestRunValidatesQueries(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")
	ctx := context.Background()

	cases := []struct {
		name    string
		queries []Query
		want    error
	}{
		{"no queries", nil, ErrMalformedQuery},
		{"missing type", []Query{{Path: []string{"users", "a"}}}, ErrMalformedQuery},
		{"missing path", []Query{{Type: QueryGet}}, ErrMalformedQuery},
		{"path too deep", []Query{{Path: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}, Type: QueryGet}}, ErrPathTooDeep},
		{"invalid segment", []Query{{Path: []string{"users", "a/b"}, Type: QueryGet}}, ErrInvalidPath},
		{"empty segment", []Query{{Path: []string{"users", ""}, Type: QueryGet}}, ErrInvalidPath},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := database.Run(ctx, tc.queries, session); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDeleteCollectionRequiresRoot(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	runOne(t, database, session, Query{Path: []string{"users", "a"}, Type: QuerySet, Data: map[string]any{"x": int64(1)}})

	_, err := database.Run(context.Background(), []Query{{Path: []string{"users"}, Type: QueryDeleteCollection}}, session)
	if !errors.Is(err, ErrNoPermission) {
		t.Fatalf("expected ErrNoPermission for non-root, got %v", err)
	}

	root := NewSession("root")
	root.Root = true
	runOne(t, database, root, Query{Path: []string{"users"}, Type: QueryDeleteCollection})

	got := runOne(t, database, session, Query{Path: []string{"users"}, Type: QueryKeys})
	if keys := got.([]string); len(keys) != 0 {
		t.Fatalf("expected collection emptied, got %v", keys)
	}
}

func TestPermissionEngineGatesQueries(t *testing.T) {
	database := newTestDatabase(t)
	database.SetRules(DenyAll{})
	session := NewSession("s1")

	_, err := database.Run(context.Background(), []Query{{Path: []string{"users", "a"}, Type: QueryGet}}, session)
	if !errors.Is(err, ErrNoPermission) {
		t.Fatalf("expected ErrNoPermission, got %v", err)
	}

	root := NewSession("root")
	root.Root = true
	runOne(t, database, root, Query{Path: []string{"users", "a"}, Type: QueryGet})
}

func TestConcurrentIncrementsSerialize(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := database.Run(context.Background(), []Query{{
				Path: []string{"counters", "hits"},
				Type: QueryUpdate,
				Data: map[string]UpdateOp{"count": {Type: UpdateIncrement, Value: int64(1)}},
			}}, session)
			if err != nil {
				t.Errorf("increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got := runOne(t, database, session, Query{Path: []string{"counters", "hits"}, Type: QueryGet})
	doc := got.(map[string]any)
	count, _ := doc["count"].(int64)
	if count != workers {
		t.Fatalf("expected count %d, got %v", workers, doc["count"])
	}
}

func TestConcurrentOppositeOrderBatchesComplete(t *testing.T) {
	database := newTestDatabase(t)

	forward := []Query{
		{Path: []string{"accounts", "alice"}, Type: QuerySet, Data: map[string]any{"balance": int64(1)}},
		{Path: []string{"ledgers", "main"}, Type: QuerySet, Data: map[string]any{"entries": int64(1)}},
	}
	reverse := []Query{
		{Path: []string{"ledgers", "main"}, Type: QuerySet, Data: map[string]any{"entries": int64(2)}},
		{Path: []string{"accounts", "alice"}, Type: QuerySet, Data: map[string]any{"balance": int64(2)}},
	}

	const rounds = 50
	run := func(session *Session, queries []Query, done chan<- error) {
		for i := 0; i < rounds; i++ {
			if _, err := database.Run(context.Background(), queries, session); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}

	first := make(chan error, 1)
	second := make(chan error, 1)
	go run(NewSession("s1"), forward, first)
	go run(NewSession("s2"), reverse, second)

	deadline := time.After(10 * time.Second)
	for _, ch := range []chan error{first, second} {
		select {
		case err := <-ch:
			if err != nil {
				t.Fatalf("batch run failed: %v", err)
			}
		case <-deadline:
			t.Fatal("batches did not complete, writers likely deadlocked")
		}
	}

	balance := runOne(t, database, NewSession("s3"), Query{Path: []string{"accounts", "alice"}, Type: QueryGet})
	if balance == nil {
		t.Fatal("expected accounts/alice to exist after concurrent batches")
	}
	entries := runOne(t, database, NewSession("s3"), Query{Path: []string{"ledgers", "main"}, Type: QueryGet})
	if entries == nil {
		t.Fatal("expected ledgers/main to exist after concurrent batches")
	}
}

func TestResolveMintsSingleCollectionID(t *testing.T) {
	database := newTestDatabase(t)

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolved, err := database.Resolve(context.Background(), []string{"users"}, true)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = resolved.Collection
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id == "" || id != ids[0] {
			t.Fatalf("expected one collection id for all resolvers, got %v", ids)
		}
	}
}

func TestRunCleanupRemovesOrphanedData(t *testing.T) {
	database := newTestDatabase(t)
	session := NewSession("s1")

	runOne(t, database, session, Query{Path: []string{"users", "a"}, Type: QuerySet, Data: map[string]any{"x": int64(1)}})
	runOne(t, database, session, Query{Path: []string{"posts", "p"}, Type: QuerySet, Data: map[string]any{"y": int64(2)}})

	resolved, err := database.Resolve(context.Background(), []string{"users"}, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Drop the registry entry so the collection's data becomes orphaned.
	if err := database.store.Collections.Delete([]byte("users")); err != nil {
		t.Fatalf("delete mapping: %v", err)
	}

	removed, err := database.RunCleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(removed) != 1 || removed[0] != resolved.Collection {
		t.Fatalf("expected cleanup of %q, got %v", resolved.Collection, removed)
	}

	// The intact collection survives.
	if got := runOne(t, database, session, Query{Path: []string{"posts", "p"}, Type: QueryGet}); got == nil {
		t.Fatal("cleanup removed live collection data")
	}
}
