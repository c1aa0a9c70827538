package store

import (
	"sort"
	"sync"
	"time"

	"github.com/roboricindustries/rescue-events/pkg/schemas/notifications"
)

// LeadWindow is how long a mechanic has to answer a lead.
const LeadWindow = 2 * time.Minute

// Lead is an incoming job offer a mechanic has not answered yet.
type Lead struct {
	NotificationID string
	Offer          notifications.NewRequestNearby
	ReceivedAt     time.Time
	Deadline       time.Time
}

func NewLead(notificationID string, offer notifications.NewRequestNearby, receivedAt time.Time) Lead {
	return Lead{
		NotificationID: notificationID,
		Offer:          offer,
		ReceivedAt:     receivedAt,
		Deadline:       receivedAt.Add(LeadWindow),
	}
}

func (l Lead) RequestID() string { return l.Offer.RequestID }

// Stale reports whether the response window has passed. Leads are never
// dropped on this alone; the server withdraws them with a push.
func (l Lead) Stale(now time.Time) bool {
	return !now.Before(l.Deadline)
}

// Remaining is the time left to answer, floored at zero.
func (l Lead) Remaining(now time.Time) time.Duration {
	return max(l.Deadline.Sub(now), 0)
}

// Leads stages leads by request id outside the request store.
type Leads struct {
	mu    sync.Mutex
	byReq map[string]Lead
}

func NewLeads() *Leads {
	return &Leads{byReq: make(map[string]Lead)}
}

// Stage records l, replacing an earlier lead for the same request.
func (s *Leads) Stage(l Lead) bool {
	if l.RequestID() == "" {
		return false
	}
	s.mu.Lock()
	s.byReq[l.RequestID()] = l
	s.mu.Unlock()
	return true
}

func (s *Leads) Remove(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byReq[requestID]; !ok {
		return false
	}
	delete(s.byReq, requestID)
	return true
}

func (s *Leads) Get(requestID string) (Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byReq[requestID]
	return l, ok
}

// List returns the staged leads, most recent first.
func (s *Leads) List() []Lead {
	s.mu.Lock()
	out := make([]Lead, 0, len(s.byReq))
	for _, l := range s.byReq {
		out = append(out, l)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].RequestID() < out[j].RequestID()
	})
	return out
}

func (s *Leads) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byReq)
}

func (s *Leads) Clear() {
	s.mu.Lock()
	s.byReq = make(map[string]Lead)
	s.mu.Unlock()
}
