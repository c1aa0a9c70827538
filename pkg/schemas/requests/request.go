package requests

import "time"

type IssueType string

const (
	IssueFlatTire      IssueType = "FLAT_TIRE"
	IssueBatteryDead   IssueType = "BATTERY_DEAD"
	IssueEngineProblem IssueType = "ENGINE_PROBLEM"
	IssueFuelShortage  IssueType = "FUEL_SHORTAGE"
	IssueBrakeIssue    IssueType = "BRAKE_ISSUE"
	IssueAccident      IssueType = "ACCIDENT"
	IssueOther         IssueType = "OTHER"
)

type BreakdownRequest struct {
	ID                string    `json:"id"`
	Status            Status    `json:"status"`
	IssueType         IssueType `json:"issueType"`
	Description       string    `json:"description"`
	Address           string    `json:"address,omitempty"`
	LocationLatitude  float64   `json:"locationLatitude"`
	LocationLongitude float64   `json:"locationLongitude"`

	// set once the request is ASSIGNED or later
	MechanicID   string `json:"mechanicId,omitempty"`
	MechanicName string `json:"mechanicName,omitempty"`

	// set once the request is COMPLETED
	FinalAmount *float64 `json:"finalAmount,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// CreateInput is the body of POST /requests.
type CreateInput struct {
	CurrentLocationLat float64   `json:"currentLocationLat"`
	CurrentLocationLng float64   `json:"currentLocationLng"`
	IssueType          IssueType `json:"issueType"`
	Description        string    `json:"description"`
	Address            string    `json:"address,omitempty"`
}

// CompleteInput is the body of PUT /requests/{id}/complete.
type CompleteInput struct {
	FinalAmount float64 `json:"finalAmount"`
	Notes       string  `json:"notes,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status       *Status
	MechanicID   *string
	MechanicName *string
	FinalAmount  *float64
	Address      *string
	Description  *string
}

func (p Patch) Empty() bool {
	return p.Status == nil && p.MechanicID == nil && p.MechanicName == nil &&
		p.FinalAmount == nil && p.Address == nil && p.Description == nil
}

// Apply merges p into r and returns the result. Status ordering is not
// checked here; callers validate with CheckTransition first.
func (p Patch) Apply(r BreakdownRequest) BreakdownRequest {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.MechanicID != nil {
		r.MechanicID = *p.MechanicID
	}
	if p.MechanicName != nil {
		r.MechanicName = *p.MechanicName
	}
	if p.FinalAmount != nil {
		v := *p.FinalAmount
		r.FinalAmount = &v
	}
	if p.Address != nil {
		r.Address = *p.Address
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	return r
}

// StatusPatch is a convenience for the common status-only update.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}
