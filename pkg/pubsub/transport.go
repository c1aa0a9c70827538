package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
)

var (
	ErrInvalidDestination = errors.New("invalid destination")
	ErrNilHandler         = errors.New("nil handler")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrNotConnected       = errors.New("transport not connected")

	errConnClosed = errors.New("connection closed")
)

// Identity is who the channel is opened for. The broker addresses the
// recipient's destination from it; it is not a credential.
type Identity struct {
	UserID string
	Role   common.RecipientRole
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.UserID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidIdentity)
	}
	if !id.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidIdentity, id.Role)
	}
	return nil
}

// Listener receives connection lifecycle events from a Transport.
// Callbacks run on transport goroutines and must not block for long.
type Listener struct {
	OnConnect func()
	OnError   func(error)
	OnClose   func(error)
}

func (l Listener) connected() {
	if l.OnConnect != nil {
		l.OnConnect()
	}
}

func (l Listener) failed(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}

func (l Listener) closed(err error) {
	if l.OnClose != nil {
		l.OnClose(err)
	}
}

// Transport owns one underlying broker connection.
//
// Connect is idempotent and non-blocking: while a connection is being
// opened or is open it does nothing. The outcome is reported through the
// Listener. A failed dial reports OnError followed by OnClose. Transports
// never retry on their own.
//
// Disconnect drops the connection and every broker subscription made on it.
// It does not report OnClose.
type Transport interface {
	Connect(ctx context.Context, id Identity, l Listener) error
	Subscribe(destination string, fn func(body []byte)) (func(), error)
	Disconnect() error
}

type linkState int

const (
	linkIdle linkState = iota
	linkConnecting
	linkConnected
)

func validDestination(d string) bool {
	return strings.TrimSpace(d) != "" && !strings.ContainsAny(d, "\n\r\x00")
}
