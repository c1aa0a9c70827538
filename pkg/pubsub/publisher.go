package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one frame pushed to a recipient destination.
type Message struct {
	ID   string
	Type string
	Body any
}

// Publisher pushes frames onto recipient destinations. Clients only need it
// to inject test traffic; the production sender is the dispatch service.
type Publisher interface {
	Publish(ctx context.Context, destination string, msg Message) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger
}

func NewPublisher(ctx context.Context, opts ConnectionOptions) (Publisher, error) {
	opts = opts.withDefaults()
	conn, err := Dial(ctx, opts, "rescue-events/publisher")
	if err != nil {
		return nil, err
	}
	return &rmqPublisher{
		conn:     conn,
		exchange: opts.Exchange,
		log:      opts.Logger.With("component", "pubsub.publisher"),
	}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, destination string, msg Message) error {
	if !validDestination(destination) {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	msgID := FirstNonEmpty(msg.ID, uuid.NewString())
	key := RoutingKey(destination)
	err = ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    msgID,
		Type:         msg.Type,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	r.log.Info("published", slog.String("key", key), slog.String("id", msgID), slog.String("type", msg.Type))
	return nil
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}
