package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/ytakahashi/todo-pwa/internal/models"
	"google.golang.org/api/iterator"
)

const (
	todosCollection    = "todos"
	commentsCollection = "comments"
	tokensCollection   = "tokens"
)

type FirestoreService struct {
	client *firestore.Client
}

func NewFirestoreService(projectID string) (*FirestoreService, error) {
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreService{
		client: client,
	}, nil
}

func (fs *FirestoreService) Close() error {
	return fs.client.Close()
}

// CreateTodo writes a new todo document. The caller has already checked that
// at least one of text and imageURL is present. createdAt is assigned by the
// server, so the document is read back to return the stored timestamp.
func (fs *FirestoreService) CreateTodo(ctx context.Context, text, imageURL *string) (*models.Todo, error) {
	todo := &models.Todo{
		ID:       uuid.New().String(),
		Text:     text,
		ImageURL: imageURL,
		Done:     false,
	}

	doc := fs.client.Collection(todosCollection).Doc(todo.ID)
	if _, err := doc.Set(ctx, todo); err != nil {
		return nil, fmt.Errorf("failed to create todo: %w", err)
	}

	snap, err := doc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read back todo: %w", err)
	}
	if err := snap.DataTo(todo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal todo: %w", err)
	}
	todo.ID = snap.Ref.ID

	return todo, nil
}

// ListTodos returns the full collection ordered newest first, the same order
// the live snapshot listener delivers.
func (fs *FirestoreService) ListTodos(ctx context.Context) ([]*models.Todo, error) {
	iter := fs.client.Collection(todosCollection).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)

	var todos []*models.Todo
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate todos: %w", err)
		}

		var todo models.Todo
		if err := doc.DataTo(&todo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal todo: %w", err)
		}
		todo.ID = doc.Ref.ID

		todos = append(todos, &todo)
	}

	return todos, nil
}

// UpdateTodo applies a partial write to the named todo. Only the fields the
// caller provides are touched; the write wins over any concurrent editor
// (last write wins, no precondition).
func (fs *FirestoreService) UpdateTodo(ctx context.Context, todoID string, text *string, done *bool) error {
	var updates []firestore.Update
	if text != nil {
		updates = append(updates, firestore.Update{Path: "text", Value: *text})
	}
	if done != nil {
		updates = append(updates, firestore.Update{Path: "done", Value: *done})
	}
	if len(updates) == 0 {
		return fmt.Errorf("no fields to update")
	}

	_, err := fs.client.Collection(todosCollection).Doc(todoID).Update(ctx, updates)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}

	return nil
}

// DeleteTodo removes the todo document and its comments sub-collection.
func (fs *FirestoreService) DeleteTodo(ctx context.Context, todoID string) error {
	doc := fs.client.Collection(todosCollection).Doc(todoID)

	iter := doc.Collection(commentsCollection).Documents(ctx)
	for {
		comment, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate comments for deletion: %w", err)
		}

		if _, err := comment.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete comment: %w", err)
		}
	}

	if _, err := doc.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}

	return nil
}

func (fs *FirestoreService) AddComment(ctx context.Context, todoID, text string) (*models.Comment, error) {
	comment := &models.Comment{
		ID:   uuid.New().String(),
		Text: text,
	}

	_, err := fs.client.Collection(todosCollection).Doc(todoID).
		Collection(commentsCollection).Doc(comment.ID).Set(ctx, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}

	return comment, nil
}

func (fs *FirestoreService) ListComments(ctx context.Context, todoID string) ([]*models.Comment, error) {
	iter := fs.client.Collection(todosCollection).Doc(todoID).
		Collection(commentsCollection).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)

	var comments []*models.Comment
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate comments: %w", err)
		}

		var comment models.Comment
		if err := doc.DataTo(&comment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comment: %w", err)
		}
		comment.ID = doc.Ref.ID

		comments = append(comments, &comment)
	}

	return comments, nil
}

func (fs *FirestoreService) DeleteComment(ctx context.Context, todoID, commentID string) error {
	_, err := fs.client.Collection(todosCollection).Doc(todoID).
		Collection(commentsCollection).Doc(commentID).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	return nil
}

// SaveDeviceToken upserts a device token record keyed by the token value.
// Merge semantics keep the write idempotent: re-registering the same token
// refreshes its metadata instead of inserting a duplicate.
func (fs *FirestoreService) SaveDeviceToken(ctx context.Context, token *models.DeviceToken) error {
	_, err := fs.client.Collection(tokensCollection).Doc(token.Token).Set(ctx, map[string]interface{}{
		"token":     token.Token,
		"userAgent": token.UserAgent,
		"platform":  token.Platform,
		"language":  token.Language,
		"timeZone":  token.TimeZone,
		"isMobile":  token.IsMobile,
		"uid":       token.UID,
		"createdAt": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to save device token: %w", err)
	}

	return nil
}

// DeviceTokensByBatch streams the token collection to fn in slices of at most
// batchSize, so the fan-out never holds the whole collection in memory.
func (fs *FirestoreService) DeviceTokensByBatch(ctx context.Context, batchSize int, fn func(tokens []string) error) error {
	iter := fs.client.Collection(tokensCollection).Documents(ctx)
	defer iter.Stop()

	batch := make([]string, 0, batchSize)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate device tokens: %w", err)
		}

		batch = append(batch, doc.Ref.ID)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		return fn(batch)
	}

	return nil
}

func (fs *FirestoreService) DeleteDeviceToken(ctx context.Context, token string) error {
	_, err := fs.client.Collection(tokensCollection).Doc(token).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete device token: %w", err)
	}

	return nil
}

// TodoSnapshots opens the long-lived listener the synchronizer consumes. Each
// snapshot carries the full current result set ordered newest first.
func (fs *FirestoreService) TodoSnapshots(ctx context.Context) *firestore.QuerySnapshotIterator {
	return fs.client.Collection(todosCollection).
		OrderBy("createdAt", firestore.Desc).
		Snapshots(ctx)
}
