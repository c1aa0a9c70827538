package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
)

// ErrMalformed marks a frame body that cannot be turned into a Notification.
var ErrMalformed = errors.New("malformed notification")

type Notification struct {
	ID            string
	RecipientID   string
	RecipientType common.RecipientRole
	Type          Type
	Title         string
	Message       string
	Data          Payload
	Read          bool
	// Timestamp is kept as sent; servers emit ISO-8601 with or without a zone.
	Timestamp string
}

type wireNotification struct {
	ID            string               `json:"id"`
	RecipientID   string               `json:"recipientId"`
	RecipientType common.RecipientRole `json:"recipientType"`
	Type          Type                 `json:"type"`
	Title         string               `json:"title"`
	Message       string               `json:"message"`
	Data          json.RawMessage      `json:"data,omitempty"`
	Read          bool                 `json:"read"`
	Timestamp     string               `json:"timestamp"`
}

// Decode parses a channel frame body.
func Decode(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Notification{}, err
		}
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return n, nil
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var w wireNotification
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if w.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformed)
	}
	*n = Notification{
		ID:            w.ID,
		RecipientID:   w.RecipientID,
		RecipientType: w.RecipientType,
		Type:          w.Type,
		Title:         w.Title,
		Message:       w.Message,
		Data:          decodePayload(w.Type, w.Data),
		Read:          w.Read,
		Timestamp:     w.Timestamp,
	}
	return nil
}

func (n Notification) MarshalJSON() ([]byte, error) {
	w := wireNotification{
		ID:            n.ID,
		RecipientID:   n.RecipientID,
		RecipientType: n.RecipientType,
		Type:          n.Type,
		Title:         n.Title,
		Message:       n.Message,
		Read:          n.Read,
		Timestamp:     n.Timestamp,
	}
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// CreatedAt parses Timestamp. Zone-less values are read as UTC.
func (n Notification) CreatedAt() (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, n.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (n Notification) Category() Category { return n.Type.Category() }

// RequestRef returns the request id carried in Data, or "".
func (n Notification) RequestRef() string {
	if n.Data == nil {
		return ""
	}
	return n.Data.RequestRef()
}

// RequestUpdate returns the change a notification implies for an existing
// breakdown request. ok is false for types that do not touch request state.
func (n Notification) RequestUpdate() (requestID string, patch requests.Patch, ok bool) {
	switch p := n.Data.(type) {
	case MechanicAssigned:
		if n.Type != TypeMechanicAssigned && n.Type != TypeRequestAccepted {
			return "", requests.Patch{}, false
		}
		patch = requests.StatusPatch(requests.StatusAssigned)
		if p.MechanicID != "" {
			patch.MechanicID = &p.MechanicID
		}
		if p.MechanicName != "" {
			patch.MechanicName = &p.MechanicName
		}
		return p.RequestID, patch, p.RequestID != ""
	case StatusChanged:
		if p.Status == "" {
			return "", requests.Patch{}, false
		}
		return p.RequestID, requests.StatusPatch(p.Status), p.RequestID != ""
	case RequestCompleted:
		patch = requests.StatusPatch(requests.StatusCompleted)
		patch.FinalAmount = p.FinalAmount
		return p.RequestID, patch, p.RequestID != ""
	case RequestClosed:
		if n.Type != TypeRequestCancelled {
			return "", requests.Patch{}, false
		}
		return p.RequestID, requests.StatusPatch(requests.StatusCancelled), p.RequestID != ""
	}
	return "", requests.Patch{}, false
}
