package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type StompOptions struct {
	// Endpoints are tried in order until one accepts the websocket
	// handshake, e.g. the native endpoint then the SockJS raw endpoint.
	Endpoints        []string
	Host             string
	Heartbeat        time.Duration
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *slog.Logger
}

func (o StompOptions) withDefaults() StompOptions {
	o.Host = FirstNonEmpty(o.Host, "/")
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultDialTimeout
	}
	o.Logger = orDefault(o.Logger)
	return o
}

// SockJSEndpoint returns the raw websocket URL a SockJS server exposes next
// to its emulated transports: ws://host/ws -> ws://host/ws/websocket.
func SockJSEndpoint(base string) string {
	return strings.TrimRight(base, "/") + "/websocket"
}

// StompTransport speaks STOMP 1.2 over a websocket.
type StompTransport struct {
	opts StompOptions
	log  *slog.Logger

	mu    sync.Mutex
	state linkState
	gen   uint64
	sess  *stompSession
}

func NewStompTransport(opts StompOptions) *StompTransport {
	opts = opts.withDefaults()
	return &StompTransport{
		opts: opts,
		log:  opts.Logger.With("component", "pubsub.stomp"),
	}
}

type stompSession struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	smu  sync.Mutex
	subs map[string]func([]byte)

	readTimeout time.Duration
	sendEvery   time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func (s *stompSession) send(f Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

func (s *stompSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.wmu.Unlock()
		_ = s.conn.Close()
	})
}

func (t *StompTransport) Connect(ctx context.Context, id Identity, l Listener) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if len(t.opts.Endpoints) == 0 {
		return errors.New("stomp: no endpoints configured")
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

func (t *StompTransport) run(ctx context.Context, gen uint64, id Identity, l Listener) {
	sess, err := t.open(ctx, id)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if sess != nil {
			sess.close()
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
	t.sess = sess
	t.state = linkConnected
	t.mu.Unlock()

	t.log.Info("stomp connected",
		slog.String("user", id.UserID),
		slog.Duration("heartbeat_in", sess.readTimeout/2),
		slog.Duration("heartbeat_out", sess.sendEvery),
	)
	l.connected()

	if sess.sendEvery > 0 {
		go t.heartbeat(sess)
	}
	go t.readLoop(gen, sess, l)
}

// open dials the endpoints in order and performs the CONNECT handshake.
func (t *StompTransport) open(ctx context.Context, id Identity) (*stompSession, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.HandshakeTimeout,
	}

	var (
		conn    *websocket.Conn
		lastErr error
	)
	for _, ep := range t.opts.Endpoints {
		c, _, err := dialer.DialContext(ctx, ep, t.opts.Header)
		if err == nil {
			conn = c
			break
		}
		lastErr = err
		t.log.Warn("endpoint unavailable, trying next", slog.String("endpoint", ep), slog.Any("error", err))
	}
	if conn == nil {
		return nil, fmt.Errorf("stomp: all endpoints failed: %w", lastErr)
	}

	hb := strconv.FormatInt(t.opts.Heartbeat.Milliseconds(), 10)
	connect := NewFrame(cmdConnect,
		"accept-version", "1.2",
		"host", t.opts.Host,
		"heart-beat", hb+","+hb,
		"user-id", id.UserID,
		"user-type", string(id.Role),
	)
	sess := &stompSession{conn: conn, subs: make(map[string]func([]byte)), done: make(chan struct{})}
	if err := sess.send(connect); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("stomp: send CONNECT: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(t.opts.HandshakeTimeout))
	var reply Frame
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("stomp: await CONNECTED: %w", err)
		}
		if IsHeartbeat(data) {
			continue
		}
		reply, err = ParseFrame(data)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		break
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch reply.Command {
	case cmdConnected:
	case cmdError:
		_ = conn.Close()
		msg, _ := reply.Get("message")
		return nil, fmt.Errorf("stomp: server refused connect: %s", FirstNonEmpty(msg, string(reply.Body)))
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("stomp: unexpected %s frame during handshake", reply.Command)
	}

	serverHB, _ := reply.Get("heart-beat")
	out, in := NegotiateHeartbeat(t.opts.Heartbeat, t.opts.Heartbeat, serverHB)
	sess.sendEvery = out
	if in > 0 {
		sess.readTimeout = 2 * in
	}
	return sess, nil
}

// NegotiateHeartbeat applies the STOMP heart-beat rule. cx/cy are what the
// client offered, server is the "sx,sy" header from CONNECTED. A zero
// result disables that direction.
func NegotiateHeartbeat(cx, cy time.Duration, server string) (out, in time.Duration) {
	sx, sy := parseHeartbeat(server)
	if cx > 0 && sy > 0 {
		out = max(cx, sy)
	}
	if cy > 0 && sx > 0 {
		in = max(cy, sx)
	}
	return out, in
}

func parseHeartbeat(v string) (sx, sy time.Duration) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

func (t *StompTransport) heartbeat(s *stompSession) {
	tick := time.NewTicker(s.sendEvery)
	defer tick.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-tick.C:
			s.wmu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte("\n"))
			s.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *StompTransport) readLoop(gen uint64, s *stompSession, l Listener) {
	var cause error
	for {
		if s.readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		if IsHeartbeat(data) {
			continue
		}
		f, err := ParseFrame(data)
		if err != nil {
			t.log.Warn("dropping unparseable frame", slog.Any("error", err))
			continue
		}
		switch f.Command {
		case cmdMessage:
			subID, _ := f.Get("subscription")
			s.smu.Lock()
			fn := s.subs[subID]
			s.smu.Unlock()
			if fn == nil {
				t.log.Debug("message for unknown subscription", slog.String("subscription", subID))
				continue
			}
			fn(f.Body)
		case cmdError:
			msg, _ := f.Get("message")
			l.failed(fmt.Errorf("stomp: %s", FirstNonEmpty(msg, string(f.Body))))
		case cmdReceipt:
		default:
			t.log.Debug("ignoring frame", slog.String("command", f.Command))
		}
	}
	s.close()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.state = linkIdle
	t.sess = nil
	t.mu.Unlock()

	t.log.Warn("stomp connection closed", slog.Any("error", cause))
	l.closed(cause)
}

func (t *StompTransport) Subscribe(destination string, fn func(body []byte)) (func(), error) {
	if !validDestination(destination) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	if fn == nil {
		return nil, ErrNilHandler
	}
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s == nil {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	s.smu.Lock()
	s.subs[id] = fn
	s.smu.Unlock()

	if err := s.send(NewFrame(cmdSubscribe, "id", id, "destination", destination, "ack", "auto")); err != nil {
		s.smu.Lock()
		delete(s.subs, id)
		s.smu.Unlock()
		return nil, fmt.Errorf("stomp: subscribe %s: %w", destination, err)
	}
	t.log.Info("subscribed", slog.String("destination", destination), slog.String("id", id))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.smu.Lock()
			delete(s.subs, id)
			s.smu.Unlock()
			select {
			case <-s.done:
			default:
				_ = s.send(NewFrame(cmdUnsubscribe, "id", id))
			}
		})
	}, nil
}

func (t *StompTransport) Disconnect() error {
	t.mu.Lock()
	t.gen++
	s := t.sess
	t.sess = nil
	t.state = linkIdle
	t.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.done:
	default:
		_ = s.send(NewFrame(cmdDisconnect))
	}
	s.close()
	return nil
}
