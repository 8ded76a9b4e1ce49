package push

import (
	"context"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"github.com/ytakahashi/todo-pwa/internal/models"
)

// Sender is the slice of the messaging client the fan-out needs.
type Sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenStore streams and prunes registered device tokens.
type TokenStore interface {
	DeviceTokensByBatch(ctx context.Context, batchSize int, fn func(tokens []string) error) error
	DeleteDeviceToken(ctx context.Context, token string) error
}

// tokenGone reports whether the provider says a token no longer exists.
var tokenGone = messaging.IsRegistrationTokenNotRegistered

const notificationTitle = "New to-do"

// placeholderBody is used when the created todo carries an image but no text.
const placeholderBody = "New note added"

// Fanout sends one multicast push notification per created todo to every
// registered device, the creating one included. Delivery is best effort:
// partial failures are counted and logged, never retried.
type Fanout struct {
	sender    Sender
	tokens    TokenStore
	appURL    string
	batchSize int
	log       zerolog.Logger
}

func NewFanout(sender Sender, tokens TokenStore, appURL string, batchSize int, log zerolog.Logger) *Fanout {
	return &Fanout{
		sender:    sender,
		tokens:    tokens,
		appURL:    appURL,
		batchSize: batchSize,
		log:       log,
	}
}

// Run consumes creation events until the channel closes. Each event is an
// independent fan-out reading its own fresh token list; a token registered
// mid-flight may or may not be included.
func (f *Fanout) Run(ctx context.Context, created <-chan *models.Todo) {
	for todo := range created {
		if err := f.Notify(ctx, todo); err != nil {
			f.log.Error().Err(err).Str("id", todo.ID).Msg("push fan-out failed")
		}
	}
}

// Notify multicasts a notification for one created todo to all registered
// tokens, in batches of at most batchSize. Tokens the provider reports as
// unregistered are deleted so they stop accumulating.
func (f *Fanout) Notify(ctx context.Context, todo *models.Todo) error {
	var sent, failed, pruned int

	err := f.tokens.DeviceTokensByBatch(ctx, f.batchSize, func(batch []string) error {
		resp, err := f.sender.SendEachForMulticast(ctx, f.message(todo, batch))
		if err != nil {
			return fmt.Errorf("failed to send multicast: %w", err)
		}

		sent += resp.SuccessCount
		failed += resp.FailureCount
		for i, r := range resp.Responses {
			if r.Error == nil {
				continue
			}
			if tokenGone(r.Error) {
				if err := f.tokens.DeleteDeviceToken(ctx, batch[i]); err != nil {
					f.log.Error().Err(err).Msg("failed to prune dead token")
					continue
				}
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	f.log.Info().
		Str("id", todo.ID).
		Int("sent", sent).
		Int("failed", failed).
		Int("pruned", pruned).
		Msg("push fan-out complete")
	return nil
}

func (f *Fanout) message(todo *models.Todo, tokens []string) *messaging.MulticastMessage {
	notification := &messaging.Notification{
		Title: notificationTitle,
		Body:  bodyText(todo),
	}
	if todo.ImageURL != nil {
		notification.ImageURL = *todo.ImageURL
	}

	msg := &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: notification,
	}
	if f.appURL != "" {
		msg.Webpush = &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: f.appURL},
		}
	}
	return msg
}

func bodyText(todo *models.Todo) string {
	if todo.Text != nil && strings.TrimSpace(*todo.Text) != "" {
		return *todo.Text
	}
	return placeholderBody
}
