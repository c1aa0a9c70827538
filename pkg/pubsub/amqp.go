package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport carries the notification channel over RabbitMQ. Each
// destination is consumed through an exclusive, auto-deleted queue bound to
// the topic exchange with RoutingKey(destination).
type AMQPTransport struct {
	opts ConnectionOptions
	log  *slog.Logger

	mu    sync.Mutex
	state linkState
	gen   uint64
	conn  *amqp.Connection
}

func NewAMQPTransport(opts ConnectionOptions) *AMQPTransport {
	opts = opts.withDefaults()
	return &AMQPTransport{
		opts: opts,
		log:  opts.Logger.With("component", "pubsub.amqp"),
	}
}

func (t *AMQPTransport) Connect(ctx context.Context, id Identity, l Listener) error {
	if err := id.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.state != linkIdle {
		t.mu.Unlock()
		t.log.Debug("connect ignored, link already active")
		return nil
	}
	t.state = linkConnecting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.run(ctx, gen, id, l)
	return nil
}

func (t *AMQPTransport) run(ctx context.Context, gen uint64, id Identity, l Listener) {
	name := fmt.Sprintf("rescue-events/%s/%s", id.Role.Segment(), id.UserID)
	conn, err := Dial(ctx, t.opts, name)

	t.mu.Lock()
	if gen != t.gen {
		// Disconnect won the race
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		t.state = linkIdle
		t.mu.Unlock()
		l.failed(err)
		l.closed(err)
		return
	}
	t.conn = conn
	t.state = linkConnected
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	t.mu.Unlock()

	t.log.Info("broker connected", slog.String("user", id.UserID), slog.String("role", string(id.Role)))
	l.connected()
	go t.watch(gen, closed, l)
}

func (t *AMQPTransport) watch(gen uint64, closed <-chan *amqp.Error, l Listener) {
	amqpErr, ok := <-closed

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.state = linkIdle
	t.conn = nil
	t.mu.Unlock()

	err := errConnClosed
	if ok && amqpErr != nil {
		err = amqpErr
		l.failed(amqpErr)
	}
	t.log.Warn("broker connection closed", slog.Any("error", err))
	l.closed(err)
}

func (t *AMQPTransport) Subscribe(destination string, fn func(body []byte)) (func(), error) {
	if !validDestination(destination) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	if fn == nil {
		return nil, ErrNilHandler
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	key := RoutingKey(destination)
	if err := ch.QueueBind(q.Name, key, t.opts.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind %s: %w", key, err)
	}
	tag := "rescue-" + uuid.NewString()
	msgs, err := ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	go func() {
		for d := range msgs {
			fn(d.Body)
		}
	}()

	t.log.Info("subscribed", slog.String("destination", destination), slog.String("key", key))
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ch.Cancel(tag, false)
			_ = ch.Close()
		})
	}, nil
}

func (t *AMQPTransport) Disconnect() error {
	t.mu.Lock()
	t.gen++
	conn := t.conn
	t.conn = nil
	t.state = linkIdle
	t.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
