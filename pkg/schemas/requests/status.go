package requests

import "fmt"

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusSearching      Status = "SEARCHING"
	StatusAssigned       Status = "ASSIGNED"
	StatusEnRoute        Status = "EN_ROUTE"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
)

var ranks = map[Status]int{
	StatusPending:        0,
	StatusSearching:      1,
	StatusAssigned:       2,
	StatusEnRoute:        3,
	StatusInProgress:     4,
	StatusCompleted:      5,
	StatusCancelled:      5,
	StatusPaymentPending: 5,
}

// Rank returns the position of s in the forward-only lifecycle order.
// ok is false for statuses this client does not know.
func (s Status) Rank() (rank int, ok bool) {
	rank, ok = ranks[s]
	return rank, ok
}

func (s Status) Valid() bool {
	_, ok := ranks[s]
	return ok
}

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a request in status s belongs in the active view.
func (s Status) Active() bool {
	return !s.Terminal()
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From, To Status
	Reason   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("status %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

// CheckTransition validates a move from one status to another.
// Staying in the same status is always allowed so duplicate pushes are harmless.
func CheckTransition(from, to Status) error {
	if from == to {
		return nil
	}
	toRank, ok := to.Rank()
	if !ok {
		return &TransitionError{From: from, To: to, Reason: "unknown target status"}
	}
	fromRank, ok := from.Rank()
	if !ok {
		// an unknown local status is overwritten by any known server status
		return nil
	}
	if from.Terminal() {
		return &TransitionError{From: from, To: to, Reason: "request already closed"}
	}
	if to == StatusCancelled {
		return nil
	}
	if toRank < fromRank {
		return &TransitionError{From: from, To: to, Reason: "status regression"}
	}
	return nil
}
