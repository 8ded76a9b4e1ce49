package livelist

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/todo-pwa/internal/models"
)

func strPtr(s string) *string { return &s }

func todoList(texts ...string) []*models.Todo {
	now := time.Now()
	todos := make([]*models.Todo, len(texts))
	for i, text := range texts {
		todos[i] = &models.Todo{
			ID:        text,
			Text:      strPtr(text),
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}
	}
	return todos
}

func TestSubscribeDeliversCurrentList(t *testing.T) {
	s := New(nil, zerolog.Nop())
	s.apply(todoList("first", "second"))

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	select {
	case todos := <-ch:
		require.Len(t, todos, 2)
		assert.Equal(t, "first", todos[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered on subscribe")
	}
}

func TestApplyReplacesListWholesale(t *testing.T) {
	s := New(nil, zerolog.Nop())
	s.apply(todoList("old"))

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()
	<-ch

	replacement := todoList("newest", "older", "oldest")
	s.apply(replacement)

	select {
	case todos := <-ch:
		require.Len(t, todos, 3)
		// the store's descending order is taken as-is
		for i := 1; i < len(todos); i++ {
			assert.True(t, !todos[i].CreatedAt.After(todos[i-1].CreatedAt),
				"snapshot order should be createdAt descending")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered after apply")
	}

	current := s.Todos()
	require.Len(t, current, 3)
	assert.Equal(t, "newest", current[0].ID)
}

func TestSlowSubscriberKeepsOnlyLatestSnapshot(t *testing.T) {
	s := New(nil, zerolog.Nop())

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()
	<-ch

	s.apply(todoList("stale"))
	s.apply(todoList("fresh"))

	select {
	case todos := <-ch:
		require.Len(t, todos, 1)
		assert.Equal(t, "fresh", todos[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(nil, zerolog.Nop())

	ch, unsubscribe := s.Subscribe()
	<-ch
	unsubscribe()

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")

	// applying after unsubscribe must not panic or deliver
	s.apply(todoList("later"))

	// a second unsubscribe is a no-op
	unsubscribe()
}

func TestTodosReturnsACopy(t *testing.T) {
	s := New(nil, zerolog.Nop())
	s.apply(todoList("a", "b"))

	first := s.Todos()
	first[0] = nil

	second := s.Todos()
	require.NotNil(t, second[0])
	assert.Equal(t, "a", second[0].ID)
}

type fakeStream struct {
	snaps   []*Snapshot
	err     error
	stopped bool
}

func (f *fakeStream) Next() (*Snapshot, error) {
	if len(f.snaps) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, context.Canceled
	}
	snap := f.snaps[0]
	f.snaps = f.snaps[1:]
	return snap, nil
}

func (f *fakeStream) Stop() { f.stopped = true }

func drainCreated(s *Synchronizer) []*models.Todo {
	var created []*models.Todo
	for todo := range s.Created() {
		created = append(created, todo)
	}
	return created
}

func TestRunSuppressesInitialSnapshotCreations(t *testing.T) {
	existing := todoList("a", "b")
	stream := &fakeStream{snaps: []*Snapshot{
		// the initial load reports every existing document as an addition
		{Todos: existing, Added: existing},
	}}

	s := New(nil, zerolog.Nop())
	s.run(stream)

	assert.Empty(t, drainCreated(s), "existing documents must not trigger notifications")
	assert.True(t, stream.stopped)

	current := s.Todos()
	require.Len(t, current, 2)
	assert.Equal(t, "a", current[0].ID)
}

func TestRunEmitsOnlyAdditionsAfterPriming(t *testing.T) {
	existing := todoList("a", "b")
	grown := todoList("c", "a", "b")
	toggled := todoList("c", "a", "b")
	shrunk := todoList("c", "b")

	stream := &fakeStream{snaps: []*Snapshot{
		{Todos: existing, Added: existing},
		{Todos: grown, Added: grown[:1]},
		// an edit delivers a fresh list with nothing added
		{Todos: toggled},
		// so does a delete
		{Todos: shrunk},
	}}

	s := New(nil, zerolog.Nop())
	s.run(stream)

	created := drainCreated(s)
	require.Len(t, created, 1)
	assert.Equal(t, "c", created[0].ID)

	current := s.Todos()
	require.Len(t, current, 2)
	assert.Equal(t, "c", current[0].ID)
}

func TestRunKeepsLastListOnStreamError(t *testing.T) {
	existing := todoList("a", "b")
	stream := &fakeStream{
		snaps: []*Snapshot{{Todos: existing, Added: existing}},
		err:   errors.New("listener broke mid-iteration"),
	}

	s := New(nil, zerolog.Nop())
	s.run(stream)

	current := s.Todos()
	require.Len(t, current, 2, "a broken stream must not truncate the list")
	assert.Equal(t, "a", current[0].ID)
	assert.True(t, stream.stopped)
}

func TestRunCountsDroppedCreations(t *testing.T) {
	names := make([]string, 70)
	for i := range names {
		names[i] = fmt.Sprintf("todo-%02d", i)
	}
	flood := todoList(names...)

	stream := &fakeStream{snaps: []*Snapshot{
		{Todos: todoList("seed"), Added: todoList("seed")},
		{Todos: flood, Added: flood},
	}}

	s := New(nil, zerolog.Nop())
	s.run(stream)

	assert.Len(t, drainCreated(s), cap(s.created), "backlog holds up to its capacity")
	assert.Equal(t, int64(len(flood)-cap(s.created)), s.dropped)
}

func TestCollectAddedFiltersChangeKinds(t *testing.T) {
	changes := []firestore.DocumentChange{
		{Kind: firestore.DocumentAdded},
		{Kind: firestore.DocumentModified},
		{Kind: firestore.DocumentRemoved},
		{Kind: firestore.DocumentAdded},
	}

	assert.Len(t, collectAdded(changes), 2, "only additions reach the push trigger")
	assert.Empty(t, collectAdded(nil))
}
