package notifications

import (
	"encoding/json"

	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
)

// Payload is the type-dependent data block of a Notification.
// The concrete type is chosen by the notification Type; Unknown keeps the
// raw JSON for tags this client does not model.
type Payload interface {
	// RequestRef returns the breakdown request the payload is about, if any.
	RequestRef() string
}

type NewRequestNearby struct {
	RequestID         string             `json:"requestId"`
	CustomerName      string             `json:"customerName,omitempty"`
	CustomerLatitude  float64            `json:"customerLatitude"`
	CustomerLongitude float64            `json:"customerLongitude"`
	EstimatedDistance float64            `json:"estimatedDistance"`
	IssueType         requests.IssueType `json:"issueType"`
	Address           string             `json:"address,omitempty"`
	Description       string             `json:"description,omitempty"`
}

func (p NewRequestNearby) RequestRef() string { return p.RequestID }

type MechanicAssigned struct {
	RequestID     string `json:"requestId"`
	MechanicID    string `json:"mechanicId,omitempty"`
	MechanicName  string `json:"mechanicName,omitempty"`
	MechanicPhone string `json:"mechanicPhone,omitempty"`
	EtaMinutes    int    `json:"etaMinutes,omitempty"`
}

func (p MechanicAssigned) RequestRef() string { return p.RequestID }

type StatusChanged struct {
	RequestID string          `json:"requestId"`
	Status    requests.Status `json:"status,omitempty"`
}

func (p StatusChanged) RequestRef() string { return p.RequestID }

type RequestCompleted struct {
	RequestID   string   `json:"requestId"`
	FinalAmount *float64 `json:"finalAmount,omitempty"`
}

func (p RequestCompleted) RequestRef() string { return p.RequestID }

// RequestClosed covers pushes that end a request or withdraw a lead.
type RequestClosed struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

func (p RequestClosed) RequestRef() string { return p.RequestID }

type Unknown struct {
	Raw json.RawMessage
}

func (p Unknown) RequestRef() string {
	var ref struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(p.Raw, &ref)
	return ref.RequestID
}

func (p Unknown) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// impliedStatus is the status a status-only push moves the request to
// when the frame does not spell it out.
var impliedStatus = map[Type]requests.Status{
	TypeSearchingMechanic: requests.StatusSearching,
	TypeMechanicEnRoute:   requests.StatusEnRoute,
	TypeServiceStarted:    requests.StatusInProgress,
	TypePaymentPending:    requests.StatusPaymentPending,
}

func decodePayload(t Type, raw json.RawMessage) Payload {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var (
		p   Payload
		err error
	)
	switch t {
	case TypeNewRequestNearby:
		var v NewRequestNearby
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeMechanicAssigned, TypeRequestAccepted:
		var v MechanicAssigned
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeSearchingMechanic, TypeMechanicEnRoute, TypeServiceStarted,
		TypeRequestStatusUpdated, TypePaymentPending:
		var v StatusChanged
		err = json.Unmarshal(raw, &v)
		if v.Status == "" {
			v.Status = impliedStatus[t]
		}
		p = v
	case TypeRequestCompleted:
		var v RequestCompleted
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeRequestCancelled, TypeRequestRejected, TypeLeadReassigned, TypeLeadExpired:
		var v RequestClosed
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return Unknown{Raw: append(json.RawMessage(nil), raw...)}
	}
	if err != nil {
		// shape drifted on the server side; keep the bytes instead of dropping the frame
		return Unknown{Raw: append(json.RawMessage(nil), raw...)}
	}
	return p
}
