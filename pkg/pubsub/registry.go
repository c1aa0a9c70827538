package pubsub

import (
	"fmt"
	"log/slog"
	"sync"
)

// Subscription is the handle returned by Registry.Subscribe. Unsubscribing
// removes exactly this entry, whatever else is registered on the destination.
type Subscription[T any] struct {
	destination string
	handler     func(T) error
}

func (s *Subscription[T]) Destination() string { return s.destination }

// Registry fans a payload out to every handler registered on a destination,
// in registration order.
type Registry[T any] struct {
	mu     sync.Mutex
	byDest map[string][]*Subscription[T]
	log    *slog.Logger
}

func NewRegistry[T any](logger *slog.Logger) *Registry[T] {
	return &Registry[T]{
		byDest: make(map[string][]*Subscription[T]),
		log:    orDefault(logger),
	}
}

func (r *Registry[T]) Subscribe(destination string, handler func(T) error) (*Subscription[T], error) {
	if !validDestination(destination) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	sub := &Subscription[T]{destination: destination, handler: handler}

	r.mu.Lock()
	r.byDest[destination] = append(r.byDest[destination], sub)
	r.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes sub. Unknown or already removed handles are ignored.
func (r *Registry[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byDest[sub.destination]
	for i, s := range list {
		if s != sub {
			continue
		}
		// copy instead of splicing in place: a Dispatch may be iterating the old slice
		next := make([]*Subscription[T], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.byDest, sub.destination)
		} else {
			r.byDest[sub.destination] = next
		}
		return
	}
}

// Dispatch calls every handler registered on destination and returns how
// many were invoked. A failing or panicking handler is logged and skipped.
func (r *Registry[T]) Dispatch(destination string, payload T) int {
	r.mu.Lock()
	list := r.byDest[destination]
	r.mu.Unlock()

	for i, sub := range list {
		if err := r.invoke(sub, payload); err != nil {
			r.log.Error("handler failed",
				slog.String("destination", destination),
				slog.Int("index", i),
				slog.Any("error", err),
			)
		}
	}
	return len(list)
}

func (r *Registry[T]) invoke(sub *Subscription[T], payload T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return sub.handler(payload)
}

func (r *Registry[T]) Len(destination string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byDest[destination])
}

func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.byDest = make(map[string][]*Subscription[T])
	r.mu.Unlock()
}
