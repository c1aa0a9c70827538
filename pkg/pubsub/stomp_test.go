package pubsub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
)

// fakeBroker is a minimal STOMP-over-websocket server.
type fakeBroker struct {
	t      *testing.T
	reject string

	mu       sync.Mutex
	connect  Frame
	conn     *websocket.Conn
	subs     map[string]string // destination -> subscription id
	unsubbed []string
	ready    chan struct{}
	readyOne sync.Once
}

func newFakeBroker(t *testing.T) (*fakeBroker, *httptest.Server) {
	b := &fakeBroker{t: t, subs: make(map[string]string), ready: make(chan struct{})}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.serve(c)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBroker) serve(c *websocket.Conn) {
	defer c.Close()
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if IsHeartbeat(data) {
			continue
		}
		f, err := ParseFrame(data)
		if err != nil {
			return
		}
		switch f.Command {
		case cmdConnect:
			b.mu.Lock()
			b.connect = f
			b.conn = c
			b.mu.Unlock()
			if b.reject != "" {
				_ = c.WriteMessage(websocket.TextMessage, NewFrame(cmdError, "message", b.reject).Marshal())
				return
			}
			_ = c.WriteMessage(websocket.TextMessage, NewFrame(cmdConnected, "version", "1.2", "heart-beat", "0,0").Marshal())
		case cmdSubscribe:
			id, _ := f.Get("id")
			d, _ := f.Get("destination")
			b.mu.Lock()
			b.subs[d] = id
			b.mu.Unlock()
			b.readyOne.Do(func() { close(b.ready) })
		case cmdUnsubscribe:
			id, _ := f.Get("id")
			b.mu.Lock()
			b.unsubbed = append(b.unsubbed, id)
			b.mu.Unlock()
		case cmdDisconnect:
			return
		}
	}
}

func (b *fakeBroker) send(destination, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := NewFrame(cmdMessage, "subscription", b.subs[destination], "destination", destination, "message-id", "m-1")
	f.Body = []byte(body)
	require.NoError(b.t, b.conn.WriteMessage(websocket.TextMessage, f.Marshal()))
}

func (b *fakeBroker) kick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.conn.Close()
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

type listenerRecorder struct {
	connected chan struct{}
	errs      chan error
	closed    chan error
}

func newRecorder() *listenerRecorder {
	return &listenerRecorder{
		connected: make(chan struct{}, 4),
		errs:      make(chan error, 4),
		closed:    make(chan error, 4),
	}
}

func (r *listenerRecorder) listener() Listener {
	return Listener{
		OnConnect: func() { r.connected <- struct{}{} },
		OnError:   func(err error) { r.errs <- err },
		OnClose:   func(err error) { r.closed <- err },
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

var mechanic42 = Identity{UserID: "42", Role: common.Mechanic}

func TestStompTransportDeliversMessages(t *testing.T) {
	broker, srv := newFakeBroker(t)
	tr := NewStompTransport(StompOptions{
		// the first endpoint 404s, the transport falls through to the next
		Endpoints: []string{wsURL(srv, "/native"), wsURL(srv, "/ws")},
		Heartbeat: 4 * time.Second,
	})
	rec := newRecorder()

	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.connected)

	broker.mu.Lock()
	hb, _ := broker.connect.Get("heart-beat")
	user, _ := broker.connect.Get("user-id")
	role, _ := broker.connect.Get("user-type")
	broker.mu.Unlock()
	assert.Equal(t, "4000,4000", hb)
	assert.Equal(t, "42", user)
	assert.Equal(t, "MECHANIC", role)

	bodies := make(chan string, 1)
	d := "/queue/notifications/mechanic/42"
	unsub, err := tr.Subscribe(d, func(b []byte) { bodies <- string(b) })
	require.NoError(t, err)
	waitFor(t, broker.ready)

	broker.send(d, `{"id":"n1"}`)
	assert.Equal(t, `{"id":"n1"}`, waitFor(t, bodies))

	unsub()
	unsub()
	assert.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.unsubbed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tr.Disconnect())
	select {
	case <-rec.closed:
		t.Fatal("Disconnect must not report OnClose")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStompTransportConnectIsIdempotent(t *testing.T) {
	_, srv := newFakeBroker(t)
	tr := NewStompTransport(StompOptions{Endpoints: []string{wsURL(srv, "/ws")}})
	rec := newRecorder()

	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.connected)
	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))

	select {
	case <-rec.connected:
		t.Fatal("second connection opened")
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, tr.Disconnect())
}

func TestStompTransportServerRefusal(t *testing.T) {
	broker, srv := newFakeBroker(t)
	broker.reject = "bad identity"
	tr := NewStompTransport(StompOptions{Endpoints: []string{wsURL(srv, "/ws")}})
	rec := newRecorder()

	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	err := waitFor(t, rec.errs)
	assert.Contains(t, err.Error(), "bad identity")
	waitFor(t, rec.closed)

	_, err = tr.Subscribe("/queue/x", func([]byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStompTransportAllEndpointsDown(t *testing.T) {
	tr := NewStompTransport(StompOptions{
		Endpoints:        []string{"ws://127.0.0.1:1/ws"},
		HandshakeTimeout: time.Second,
	})
	rec := newRecorder()

	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.errs)
	waitFor(t, rec.closed)
}

func TestStompTransportReportsServerDrop(t *testing.T) {
	broker, srv := newFakeBroker(t)
	tr := NewStompTransport(StompOptions{Endpoints: []string{wsURL(srv, "/ws")}})
	rec := newRecorder()

	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.connected)

	broker.kick()
	waitFor(t, rec.closed)

	// the link is idle again and can be reopened
	require.NoError(t, tr.Connect(context.Background(), mechanic42, rec.listener()))
	waitFor(t, rec.connected)
	require.NoError(t, tr.Disconnect())
}

func TestStompTransportRejectsInvalidIdentity(t *testing.T) {
	tr := NewStompTransport(StompOptions{Endpoints: []string{"ws://unused"}})
	err := tr.Connect(context.Background(), Identity{Role: common.Customer}, Listener{})
	assert.True(t, errors.Is(err, ErrInvalidIdentity))
}

func TestSockJSEndpoint(t *testing.T) {
	assert.Equal(t, "ws://host/ws/websocket", SockJSEndpoint("ws://host/ws/"))
}
