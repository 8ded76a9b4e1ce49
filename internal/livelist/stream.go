package livelist

import (
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/ytakahashi/todo-pwa/internal/models"
	"google.golang.org/api/iterator"
)

// Snapshot is one delivery from the live query: the full current result set,
// newest first, plus the documents added since the previous delivery.
type Snapshot struct {
	Todos []*models.Todo
	Added []*models.Todo
}

// SnapshotStream yields decoded snapshots until cancelled or broken.
type SnapshotStream interface {
	Next() (*Snapshot, error)
	Stop()
}

// firestoreStream adapts the firestore listener to SnapshotStream.
type firestoreStream struct {
	iter *firestore.QuerySnapshotIterator
	log  zerolog.Logger
}

func (st *firestoreStream) Next() (*Snapshot, error) {
	snap, err := st.iter.Next()
	if err != nil {
		return nil, err
	}

	todos, err := st.decodeAll(snap.Documents)
	if err != nil {
		return nil, err
	}

	var added []*models.Todo
	for _, doc := range collectAdded(snap.Changes) {
		todo, err := decode(doc)
		if err != nil {
			st.log.Error().Err(err).Str("id", doc.Ref.ID).Msg("failed to decode created todo")
			continue
		}
		added = append(added, todo)
	}

	return &Snapshot{Todos: todos, Added: added}, nil
}

func (st *firestoreStream) Stop() {
	st.iter.Stop()
}

func (st *firestoreStream) decodeAll(docs *firestore.DocumentIterator) ([]*models.Todo, error) {
	todos := make([]*models.Todo, 0)
	for {
		doc, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate snapshot documents: %w", err)
		}

		todo, err := decode(doc)
		if err != nil {
			st.log.Error().Err(err).Str("id", doc.Ref.ID).Msg("failed to decode todo, skipping")
			continue
		}
		todos = append(todos, todo)
	}
	return todos, nil
}

// collectAdded filters a change set down to document additions; updates and
// deletes never feed the push trigger.
func collectAdded(changes []firestore.DocumentChange) []*firestore.DocumentSnapshot {
	var docs []*firestore.DocumentSnapshot
	for _, change := range changes {
		if change.Kind == firestore.DocumentAdded {
			docs = append(docs, change.Doc)
		}
	}
	return docs
}

// decode normalizes missing optional fields: absent text and imageUrl come
// back nil, absent done comes back false.
func decode(doc *firestore.DocumentSnapshot) (*models.Todo, error) {
	var todo models.Todo
	if err := doc.DataTo(&todo); err != nil {
		return nil, err
	}
	todo.ID = doc.Ref.ID
	return &todo, nil
}
