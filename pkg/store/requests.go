package store

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
)

// Requests holds the breakdown requests the user is involved in, newest
// first, and which one is current.
type Requests struct {
	log *slog.Logger

	mu      sync.Mutex
	items   []requests.BreakdownRequest
	current string
}

func NewRequests(logger *slog.Logger) *Requests {
	if logger == nil {
		logger = slog.Default()
	}
	return &Requests{log: logger.With("component", "store.requests")}
}

// SetAll replaces the collection after a full fetch. The current request is
// kept if it is still present.
func (s *Requests) SetAll(list []requests.BreakdownRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append([]requests.BreakdownRequest(nil), list...)
	if s.indexOf(s.current) < 0 {
		s.current = ""
	}
}

// Add puts r first and makes it current. An entry with the same id is replaced.
func (s *Requests) Add(r requests.BreakdownRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(r.ID); i >= 0 {
		s.items = append(s.items[:i:i], s.items[i+1:]...)
	}
	s.items = append([]requests.BreakdownRequest{r}, s.items...)
	s.current = r.ID
}

// ApplyUpdate merges p into request id. Unknown ids, status regressions and
// moves out of a terminal status are logged and rejected.
func (s *Requests) ApplyUpdate(id string, p requests.Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		s.log.Debug("update for unknown request", slog.String("request", id))
		return false
	}
	if p.Empty() {
		return false
	}
	cur := s.items[i]
	if p.Status != nil {
		if err := requests.CheckTransition(cur.Status, *p.Status); err != nil {
			var te *requests.TransitionError
			if errors.As(err, &te) {
				s.log.Warn("stale request update rejected",
					slog.String("request", id),
					slog.String("from", string(te.From)),
					slog.String("to", string(te.To)),
					slog.String("reason", te.Reason),
				)
			} else {
				s.log.Warn("request update rejected", slog.String("request", id), slog.Any("error", err))
			}
			return false
		}
	}
	s.items[i] = p.Apply(cur)
	return true
}

func (s *Requests) Get(id string) (requests.BreakdownRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], true
	}
	return requests.BreakdownRequest{}, false
}

func (s *Requests) Current() (requests.BreakdownRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(s.current); i >= 0 {
		return s.items[i], true
	}
	return requests.BreakdownRequest{}, false
}

func (s *Requests) All() []requests.BreakdownRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]requests.BreakdownRequest(nil), s.items...)
}

// Active returns the requests that are neither completed nor cancelled.
func (s *Requests) Active() []requests.BreakdownRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []requests.BreakdownRequest
	for _, r := range s.items {
		if r.Status.Active() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Requests) Clear() {
	s.mu.Lock()
	s.items = nil
	s.current = ""
	s.mu.Unlock()
}

func (s *Requests) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range s.items {
		if r.ID == id {
			return i
		}
	}
	return -1
}
