package livelist

import (
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/ytakahashi/todo-pwa/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store is the slice of the firestore service the synchronizer needs.
type Store interface {
	TodoSnapshots(ctx context.Context) *firestore.QuerySnapshotIterator
}

// Synchronizer mirrors the todos collection into memory. It holds one
// long-lived snapshot listener; every change delivers the full result set,
// which replaces the local list wholesale and is fanned out to subscribers.
// Creations observed after the initial snapshot are published on Created for
// the push trigger.
type Synchronizer struct {
	store Store
	log   zerolog.Logger

	mu      sync.Mutex
	todos   []*models.Todo
	subs    map[int]chan []*models.Todo
	nextSub int

	created chan *models.Todo
	primed  bool
	dropped int64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(store Store, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:   store,
		log:     log,
		subs:    make(map[int]chan []*models.Todo),
		created: make(chan *models.Todo, 64),
		done:    make(chan struct{}),
	}
}

// Start opens the listener. Close must be called to release it.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(&firestoreStream{iter: s.store.TodoSnapshots(ctx), log: s.log})
}

// Close tears down the listener and waits for the run loop to exit. Safe to
// call on every shutdown path.
func (s *Synchronizer) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Todos returns the list as of the last received snapshot, newest first.
func (s *Synchronizer) Todos() []*models.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Todo, len(s.todos))
	copy(out, s.todos)
	return out
}

// Subscribe registers a listener for list snapshots. The current list is
// delivered immediately; afterwards each remote change delivers the new list,
// keeping only the latest if the consumer falls behind. The returned func
// must be called to release the subscription.
func (s *Synchronizer) Subscribe() (<-chan []*models.Todo, func()) {
	ch := make(chan []*models.Todo, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.todos
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Created delivers each todo created after the initial snapshot. The channel
// is closed when the listener stops.
func (s *Synchronizer) Created() <-chan *models.Todo {
	return s.created
}

// run consumes the stream until it is cancelled or breaks. The initial
// snapshot reports every existing document as an addition, so its additions
// are suppressed; afterwards exactly the added documents feed Created. A
// stream error leaves the last complete list in place.
func (s *Synchronizer) run(stream SnapshotStream) {
	defer close(s.done)
	defer close(s.created)
	defer stream.Stop()

	for {
		snap, err := stream.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				return
			}
			s.log.Error().Err(err).Msg("todo snapshot listener stopped")
			return
		}

		if s.primed {
			for _, todo := range snap.Added {
				select {
				case s.created <- todo:
				default:
					s.dropped++
					s.log.Warn().Str("id", todo.ID).Int64("dropped", s.dropped).
						Msg("creation event dropped, fan-out backlog full")
				}
			}
		} else {
			s.primed = true
		}

		s.apply(snap.Todos)
	}
}

// apply replaces the local list and notifies every subscriber. Subscriber
// channels hold one pending snapshot; a stale one is displaced rather than
// blocking the listener.
func (s *Synchronizer) apply(todos []*models.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.todos = todos
	for _, ch := range s.subs {
		select {
		case ch <- todos:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- todos:
			default:
			}
		}
	}
}
