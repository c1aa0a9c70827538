package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange    = "rescue.notifications"
	DefaultHeartbeat   = 4 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

type ConnectionOptions struct {
	URL         string
	Exchange    string
	Heartbeat   time.Duration
	DialTimeout time.Duration
	Logger      *slog.Logger

	// Dialer replaces amqp.DialConfig, mainly for tests.
	Dialer func(url string, cfg amqp.Config) (*amqp.Connection, error)
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	o.Exchange = FirstNonEmpty(o.Exchange, DefaultExchange)
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Dialer == nil {
		o.Dialer = amqp.DialConfig
	}
	o.Logger = orDefault(o.Logger)
	return o
}

// Dial opens one AMQP connection with the channel heartbeat applied and
// declares the notification exchange. It makes a single attempt; the
// caller owns the retry policy.
func Dial(ctx context.Context, opts ConnectionOptions, connName string) (*amqp.Connection, error) {
	const op = "pubsub.Dial"
	opts = opts.withDefaults()

	if opts.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	host := ""
	if u, err := url.Parse(opts.URL); err == nil {
		host = u.Host
	}
	log := opts.Logger.With("op", op)
	log.Debug("dialing broker", slog.String("host", host))

	cfg := amqp.Config{
		Heartbeat:  opts.Heartbeat,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(opts.DialTimeout),
		Properties: amqp.Table{"connection_name": connName},
	}

	// amqp091 has no context-aware dial; race it against ctx instead
	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := opts.Dialer(opts.URL, cfg)
		done <- result{conn, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		log.Warn("dial failed", slog.Any("error", res.err))
		return nil, fmt.Errorf("failed to connect to broker: %w", res.err)
	}

	ch, err := res.conn.Channel()
	if err != nil {
		_ = res.conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = res.conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", opts.Exchange, err)
	}
	return res.conn, nil
}
