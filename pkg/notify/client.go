package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roboricindustries/rescue-events/pkg/pubsub"
	"github.com/roboricindustries/rescue-events/pkg/schemas/notifications"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

var ErrNotStarted = errors.New("notification client not started")

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
)

func (s State) gauge() float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	}
	return 0
}

// Status is a snapshot of the channel. Exhausted is set once reconnecting
// gave up; only Reconnect or a new Start clears it.
type Status struct {
	State     State
	Attempts  int
	Exhausted bool
	LastError error
}

type Config struct {
	Transport            pubsub.Transport
	Logger               *slog.Logger
	Metrics              *Metrics
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	// OnStatus is called after every status change, outside the client lock.
	OnStatus func(Status)
}

// Destination is the per-recipient channel address.
func Destination(id pubsub.Identity) string {
	return fmt.Sprintf("/queue/notifications/%s/%s", id.Role.Segment(), id.UserID)
}

// Client owns the session's notification channel: one transport
// connection, the broker subscription on the recipient's destination and
// the handlers registered on it.
type Client struct {
	tr      pubsub.Transport
	log     *slog.Logger
	m       *Metrics
	delay   time.Duration
	maxTry  int
	onState func(Status)
	reg     *pubsub.Registry[notifications.Notification]

	// dial orders transport Connect/Disconnect calls made by the client
	dial sync.Mutex

	mu      sync.Mutex
	started bool
	// life spans one Start until Close or an identity switch; every dial
	// of that run uses it
	life    context.Context
	cancel  context.CancelFunc
	id      pubsub.Identity
	status  Status
	gen     uint64
	retry   *time.Timer
	unsub   func()
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errors.New("notify: transport is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	c := &Client{
		tr:      cfg.Transport,
		log:     logger.With("component", "notify.client"),
		m:       cfg.Metrics,
		delay:   cfg.ReconnectDelay,
		maxTry:  cfg.MaxReconnectAttempts,
		onState: cfg.OnStatus,
		reg:     pubsub.NewRegistry[notifications.Notification](logger),
		status:  Status{State: StateDisconnected},
	}
	c.m.State.Set(0)
	return c, nil
}

// Start opens the channel for id. Calling it again for the same identity
// while the channel is up or being brought up does nothing; a different
// identity replaces the current connection.
//
// ctx must be live when Start is called. Its values carry over to later
// dials but its cancellation does not: only Close ends the run.
func (c *Client) Start(ctx context.Context, id pubsub.Identity) error {
	const op = "notify.Start"
	if err := id.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("notify: start: %w", err)
	}
	c.dial.Lock()
	defer c.dial.Unlock()

	c.mu.Lock()
	if c.started && c.id == id && !c.status.Exhausted {
		c.mu.Unlock()
		return nil
	}
	replacing := c.started && c.id != id
	c.stopRetryLocked()
	if c.cancel != nil {
		c.cancel()
	}
	c.life, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	life := c.life
	c.started = true
	c.id = id
	c.gen++
	gen := c.gen
	unsub := c.unsub
	c.unsub = nil
	st := c.setLocked(Status{State: StateConnecting})
	c.mu.Unlock()

	if replacing {
		if unsub != nil {
			unsub()
		}
		_ = c.tr.Disconnect()
		c.reg.Clear()
	}
	c.emit(st)
	c.log.Info("starting channel", slog.String("op", op), slog.String("destination", Destination(id)))
	return c.connect(life, gen, id)
}

// Reconnect starts over after the client gave up, or retries right away
// while a reconnect is pending. It does nothing while connected.
func (c *Client) Reconnect() error {
	c.dial.Lock()
	defer c.dial.Unlock()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.status.State == StateConnected || c.status.State == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopRetryLocked()
	c.gen++
	gen, ctx, id := c.gen, c.life, c.id
	st := c.setLocked(Status{State: StateConnecting})
	c.mu.Unlock()

	// abort a dial that may still be in flight for the previous attempt
	_ = c.tr.Disconnect()
	c.emit(st)
	return c.connect(ctx, gen, id)
}

// Close stops retries, drops the connection and forgets every handler.
func (c *Client) Close() error {
	c.dial.Lock()
	defer c.dial.Unlock()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.gen++
	c.stopRetryLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	unsub := c.unsub
	c.unsub = nil
	st := c.setLocked(Status{State: StateDisconnected})
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	err := c.tr.Disconnect()
	c.reg.Clear()
	c.emit(st)
	c.log.Info("channel closed")
	return err
}

// Subscribe registers handler on the started identity's destination.
// Handlers stay registered across reconnects.
func (c *Client) Subscribe(handler func(notifications.Notification) error) (*pubsub.Subscription[notifications.Notification], error) {
	c.mu.Lock()
	started, id := c.started, c.id
	c.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	return c.reg.Subscribe(Destination(id), handler)
}

func (c *Client) Unsubscribe(sub *pubsub.Subscription[notifications.Notification]) {
	c.reg.Unsubscribe(sub)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Handlers returns how many handlers are registered for the current identity.
func (c *Client) Handlers() int {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()
	return c.reg.Len(Destination(id))
}

func (c *Client) connect(ctx context.Context, gen uint64, id pubsub.Identity) error {
	err := c.tr.Connect(ctx, id, pubsub.Listener{
		OnConnect: func() { c.onConnect(gen) },
		OnError:   func(err error) { c.onError(gen, err) },
		OnClose:   func(err error) { c.onClose(gen, err) },
	})
	if err != nil {
		c.mu.Lock()
		var st Status
		if gen == c.gen {
			st = c.setLocked(Status{State: StateDisconnected, LastError: err})
		}
		c.mu.Unlock()
		if st.State != "" {
			c.emit(st)
		}
		return fmt.Errorf("notify: connect: %w", err)
	}
	return nil
}

func (c *Client) onConnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.started {
		c.mu.Unlock()
		return
	}
	dest := Destination(c.id)
	c.mu.Unlock()

	unsub, err := c.tr.Subscribe(dest, func(body []byte) { c.deliver(dest, body) })
	if err != nil {
		c.log.Error("broker subscribe failed", slog.String("destination", dest), slog.Any("error", err))
		_ = c.tr.Disconnect()
		c.onClose(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || !c.started {
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsub = unsub
	st := c.setLocked(Status{State: StateConnected})
	c.mu.Unlock()

	c.log.Info("channel connected", slog.String("destination", dest))
	c.emit(st)
}

func (c *Client) onError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	st := c.status
	st.LastError = err
	st = c.setLocked(st)
	c.mu.Unlock()

	c.log.Warn("channel error", slog.Any("error", err))
	c.emit(st)
}

func (c *Client) onClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || !c.started {
		c.mu.Unlock()
		return
	}
	c.unsub = nil
	lastErr := c.status.LastError
	if cause != nil {
		lastErr = cause
	}

	var st Status
	if c.status.Attempts < c.maxTry {
		st = c.setLocked(Status{State: StateReconnecting, Attempts: c.status.Attempts + 1, LastError: lastErr})
		c.retry = time.AfterFunc(c.delay, func() { c.redial(gen) })
		c.m.ReconnectAttempts.Inc()
	} else {
		st = c.setLocked(Status{State: StateDisconnected, Attempts: c.status.Attempts, Exhausted: true, LastError: lastErr})
	}
	c.mu.Unlock()

	if st.Exhausted {
		c.log.Error("giving up on channel", slog.Int("attempts", st.Attempts), slog.Any("error", lastErr))
	} else {
		c.log.Warn("channel lost, reconnecting",
			slog.Int("attempt", st.Attempts),
			slog.Int("max_attempts", c.maxTry),
			slog.Duration("delay", c.delay),
			slog.Any("error", lastErr),
		)
	}
	c.emit(st)
}

func (c *Client) redial(gen uint64) {
	c.dial.Lock()
	defer c.dial.Unlock()

	c.mu.Lock()
	if gen != c.gen || !c.started {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	ctx, id := c.life, c.id
	c.mu.Unlock()

	if err := c.connect(ctx, gen, id); err != nil {
		c.log.Error("reconnect failed", slog.Any("error", err))
	}
}

func (c *Client) deliver(dest string, body []byte) {
	n, err := notifications.Decode(body)
	if err != nil {
		c.m.Dropped.Inc()
		c.log.Warn("dropping frame", slog.String("destination", dest), slog.Int("bytes", len(body)), slog.Any("error", err))
		return
	}
	c.m.Received.WithLabelValues(typeLabel(n.Type)).Inc()
	if c.reg.Dispatch(dest, n) == 0 {
		c.log.Debug("no handlers for notification", slog.String("id", n.ID), slog.String("type", string(n.Type)))
	}
}

func (c *Client) setLocked(st Status) Status {
	c.status = st
	c.m.State.Set(st.State.gauge())
	return st
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) emit(st Status) {
	if c.onState != nil {
		c.onState(st)
	}
}
