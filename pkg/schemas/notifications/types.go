package notifications

import "strings"

// Type is the open-ended tag the server puts on every notification.
// Business logic compares it exactly; presentation uses Category.
type Type string

const (
	TypeNewRequestNearby     Type = "NEW_REQUEST_NEARBY"
	TypeSearchingMechanic    Type = "SEARCHING_MECHANIC"
	TypeMechanicAssigned     Type = "MECHANIC_ASSIGNED"
	TypeRequestAccepted      Type = "REQUEST_ACCEPTED"
	TypeRequestRejected      Type = "REQUEST_REJECTED"
	TypeMechanicEnRoute      Type = "MECHANIC_EN_ROUTE"
	TypeServiceStarted       Type = "SERVICE_STARTED"
	TypeRequestStatusUpdated Type = "REQUEST_STATUS_UPDATED"
	TypePaymentPending       Type = "PAYMENT_PENDING"
	TypeRequestCompleted     Type = "REQUEST_COMPLETED"
	TypeRequestCancelled     Type = "REQUEST_CANCELLED"
	TypeLeadReassigned       Type = "LEAD_REASSIGNED"
	TypeLeadExpired          Type = "LEAD_EXPIRED"
)

// Known reports whether t is one of the types declared above.
func (t Type) Known() bool {
	switch t {
	case TypeNewRequestNearby, TypeSearchingMechanic, TypeMechanicAssigned,
		TypeRequestAccepted, TypeRequestRejected, TypeMechanicEnRoute,
		TypeServiceStarted, TypeRequestStatusUpdated, TypePaymentPending,
		TypeRequestCompleted, TypeRequestCancelled, TypeLeadReassigned,
		TypeLeadExpired:
		return true
	}
	return false
}

type Category int

const (
	CategoryGeneral Category = iota
	CategoryAssigned
	CategoryNewRequest
	CategorySearching
	CategoryCompleted
)

// Category groups a type for display by substring, so new server-side
// variants such as NEW_REQUEST_URGENT still get a sensible icon.
func (t Type) Category() Category {
	s := string(t)
	switch {
	case strings.Contains(s, "MECHANIC_ASSIGNED"), strings.Contains(s, "REQUEST_ACCEPTED"):
		return CategoryAssigned
	case strings.Contains(s, "NEW_REQUEST"):
		return CategoryNewRequest
	case strings.Contains(s, "SEARCHING"):
		return CategorySearching
	case strings.Contains(s, "COMPLETED"):
		return CategoryCompleted
	default:
		return CategoryGeneral
	}
}

func (c Category) Icon() string {
	switch c {
	case CategoryAssigned:
		return "✅"
	case CategoryNewRequest:
		return "🚗"
	case CategorySearching:
		return "🔍"
	case CategoryCompleted:
		return "🎉"
	default:
		return "🔔"
	}
}

func (c Category) String() string {
	switch c {
	case CategoryAssigned:
		return "assigned"
	case CategoryNewRequest:
		return "new_request"
	case CategorySearching:
		return "searching"
	case CategoryCompleted:
		return "completed"
	default:
		return "general"
	}
}
