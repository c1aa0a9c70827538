package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Loopback is an in-process broker. It backs offline demos and tests:
// frames are delivered with Publish, and connect failures or server-side
// drops can be scripted with FailNext and Drop.
type Loopback struct {
	log *slog.Logger

	mu       sync.Mutex
	state    linkState
	gen      uint64
	listener Listener
	subs     map[string][]*loopSub
	failNext int
	failErr  error
	connects int
}

type loopSub struct {
	fn func([]byte)
}

func NewLoopback(logger *slog.Logger) *Loopback {
	return &Loopback{
		log:  orDefault(logger).With("component", "pubsub.loopback"),
		subs: make(map[string][]*loopSub),
	}
}

// FailNext makes the next n Connect calls fail with err.
func (b *Loopback) FailNext(n int, err error) {
	if err == nil {
		err = fmt.Errorf("loopback: scripted connect failure")
	}
	b.mu.Lock()
	b.failNext = n
	b.failErr = err
	b.mu.Unlock()
}

// Connects counts Connect calls that started a dial.
func (b *Loopback) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *Loopback) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == linkConnected
}

// Subscriptions returns the number of broker-level subscriptions on destination.
func (b *Loopback) Subscriptions(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[destination])
}

// Connect fails the dial like a real broker would when ctx is already done
// by the time the dial goroutine runs.
func (b *Loopback) Connect(ctx context.Context, id Identity, l Listener) error {
	if err := id.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.state != linkIdle {
		b.mu.Unlock()
		return nil
	}
	b.state = linkConnecting
	b.gen++
	b.connects++
	gen := b.gen
	b.mu.Unlock()

	go func() {
		b.mu.Lock()
		if gen != b.gen {
			b.mu.Unlock()
			return
		}
		if err := ctx.Err(); err != nil {
			b.state = linkIdle
			b.mu.Unlock()
			l.failed(err)
			l.closed(err)
			return
		}
		if b.failNext > 0 {
			b.failNext--
			err := b.failErr
			b.state = linkIdle
			b.mu.Unlock()
			l.failed(err)
			l.closed(err)
			return
		}
		b.state = linkConnected
		b.listener = l
		b.mu.Unlock()
		b.log.Debug("connected", slog.String("user", id.UserID))
		l.connected()
	}()
	return nil
}

func (b *Loopback) Subscribe(destination string, fn func(body []byte)) (func(), error) {
	if !validDestination(destination) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	if fn == nil {
		return nil, ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != linkConnected {
		return nil, ErrNotConnected
	}
	s := &loopSub{fn: fn}
	b.subs[destination] = append(b.subs[destination], s)
	return func() { b.remove(destination, s) }, nil
}

func (b *Loopback) remove(destination string, s *loopSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[destination]
	for i, cur := range list {
		if cur == s {
			b.subs[destination] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers body to every subscriber of destination on the calling
// goroutine and returns the number of deliveries.
func (b *Loopback) Publish(destination string, body []byte) int {
	b.mu.Lock()
	list := append([]*loopSub(nil), b.subs[destination]...)
	b.mu.Unlock()
	for _, s := range list {
		s.fn(body)
	}
	return len(list)
}

// Drop simulates the broker closing a live connection.
func (b *Loopback) Drop(err error) {
	if err == nil {
		err = errConnClosed
	}
	b.mu.Lock()
	if b.state != linkConnected {
		b.mu.Unlock()
		return
	}
	l := b.listener
	b.state = linkIdle
	b.listener = Listener{}
	b.subs = make(map[string][]*loopSub)
	b.mu.Unlock()

	l.failed(err)
	l.closed(err)
}

func (b *Loopback) Disconnect() error {
	b.mu.Lock()
	b.gen++
	b.state = linkIdle
	b.listener = Listener{}
	b.subs = make(map[string][]*loopSub)
	b.mu.Unlock()
	return nil
}
