package common

import (
	"fmt"
	"strings"
)

type RecipientRole string

const (
	Customer RecipientRole = "CUSTOMER"
	Mechanic RecipientRole = "MECHANIC"
)

// ParseRole maps a user role to the recipient role used for channel addressing.
// Anything that is not a mechanic (including ADMIN) receives customer notifications.
func ParseRole(s string) RecipientRole {
	if strings.EqualFold(strings.TrimSpace(s), string(Mechanic)) {
		return Mechanic
	}
	return Customer
}

func (r RecipientRole) Valid() bool {
	return r == Customer || r == Mechanic
}

// Segment is the lower-case form used inside destination names.
func (r RecipientRole) Segment() string {
	return strings.ToLower(string(r))
}

func (r *RecipientRole) UnmarshalText(b []byte) error {
	v := RecipientRole(strings.ToUpper(string(b)))
	if !v.Valid() {
		return fmt.Errorf("unknown recipient role %q", string(b))
	}
	*r = v
	return nil
}
