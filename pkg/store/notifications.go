package store

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/roboricindustries/rescue-events/pkg/schemas/notifications"
)

type EventKind int

const (
	EventReceived EventKind = iota
	EventMarkedRead
	EventAllRead
	EventDeleted
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventReceived:
		return "received"
	case EventMarkedRead:
		return "marked_read"
	case EventAllRead:
		return "all_read"
	case EventDeleted:
		return "deleted"
	case EventCleared:
		return "cleared"
	}
	return "unknown"
}

// Event is one mutation of the notification store. Notification is set for
// EventReceived, ID for EventMarkedRead and EventDeleted.
type Event struct {
	Kind         EventKind
	Notification notifications.Notification
	ID           string
}

// Notifications is the session's notification inbox. Entries keep arrival
// order and are listed newest first.
type Notifications struct {
	log *slog.Logger

	mu     sync.Mutex
	items  []*notifications.Notification // oldest first
	byID   map[string]*notifications.Notification
	unread int
}

func NewNotifications(logger *slog.Logger) *Notifications {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifications{
		log:  logger.With("component", "store.notifications"),
		byID: make(map[string]*notifications.Notification),
	}
}

// ReplayNotifications rebuilds an inbox from an event log.
func ReplayNotifications(logger *slog.Logger, events []Event) *Notifications {
	s := NewNotifications(logger)
	for _, e := range events {
		s.Apply(e)
	}
	return s
}

// Apply runs one event and reports whether it changed the state.
func (s *Notifications) Apply(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case EventReceived:
		return s.receive(e.Notification)
	case EventMarkedRead:
		return s.markRead(e.ID)
	case EventAllRead:
		return s.markAllRead()
	case EventDeleted:
		return s.delete(e.ID)
	case EventCleared:
		changed := len(s.items) > 0
		s.items = nil
		s.byID = make(map[string]*notifications.Notification)
		s.unread = 0
		return changed
	}
	return false
}

// Receive adds n as the newest entry. A notification whose id is already
// held is dropped and Receive returns false.
func (s *Notifications) Receive(n notifications.Notification) bool {
	return s.Apply(Event{Kind: EventReceived, Notification: n})
}

func (s *Notifications) MarkRead(id string) bool {
	return s.Apply(Event{Kind: EventMarkedRead, ID: id})
}

func (s *Notifications) MarkAllRead() bool {
	return s.Apply(Event{Kind: EventAllRead})
}

func (s *Notifications) Delete(id string) bool {
	return s.Apply(Event{Kind: EventDeleted, ID: id})
}

func (s *Notifications) Clear() {
	s.Apply(Event{Kind: EventCleared})
}

func (s *Notifications) receive(n notifications.Notification) bool {
	if _, dup := s.byID[n.ID]; dup {
		s.log.Debug("duplicate notification dropped", slog.String("id", n.ID))
		return false
	}
	entry := n
	s.items = append(s.items, &entry)
	s.byID[n.ID] = &entry
	if !entry.Read {
		s.unread++
	}
	return true
}

func (s *Notifications) markRead(id string) bool {
	n, ok := s.byID[id]
	if !ok || n.Read {
		return false
	}
	n.Read = true
	s.dec()
	return true
}

func (s *Notifications) markAllRead() bool {
	changed := s.unread > 0
	for _, n := range s.items {
		n.Read = true
	}
	s.unread = 0
	return changed
}

func (s *Notifications) delete(id string) bool {
	n, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	for i, cur := range s.items {
		if cur == n {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			break
		}
	}
	if !n.Read {
		s.dec()
	}
	return true
}

func (s *Notifications) dec() {
	if s.unread > 0 {
		s.unread--
	}
}

// List returns a copy of the entries, newest first.
func (s *Notifications) List() []notifications.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Notification, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		out = append(out, *s.items[i])
	}
	return out
}

func (s *Notifications) Get(id string) (notifications.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return notifications.Notification{}, false
	}
	return *n, true
}

func (s *Notifications) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Notifications) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Badge is the bell label: empty with nothing unread, capped at "9+".
func (s *Notifications) Badge() string {
	n := s.UnreadCount()
	switch {
	case n == 0:
		return ""
	case n > 9:
		return "9+"
	}
	return strconv.Itoa(n)
}
