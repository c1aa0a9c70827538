package gateway

import "github.com/roboricindustries/rescue-events/pkg/schemas/common"

type UserRole string

const (
	RoleCustomer UserRole = "CUSTOMER"
	RoleMechanic UserRole = "MECHANIC"
	RoleAdmin    UserRole = "ADMIN"
)

type User struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Phone           string           `json:"phone"`
	FullName        string           `json:"fullName"`
	Role            UserRole         `json:"role"`
	ProfileImageURL string           `json:"profileImageUrl,omitempty"`
	IsVerified      bool             `json:"isVerified"`
	IsActive        bool             `json:"isActive"`
	CreatedAt       string           `json:"createdAt,omitempty"`
	UpdatedAt       string           `json:"updatedAt,omitempty"`
	LastLoginAt     string           `json:"lastLoginAt,omitempty"`
	MechanicProfile *MechanicProfile `json:"mechanicProfile,omitempty"`
}

// RecipientRole is the role notifications are addressed to. Admins get the
// customer stream.
func (u User) RecipientRole() common.RecipientRole {
	return common.ParseRole(string(u.Role))
}

type MechanicProfile struct {
	ID                     string   `json:"id"`
	UserID                 string   `json:"userId"`
	IsAvailable            bool     `json:"isAvailable"`
	CurrentLocationLat     *float64 `json:"currentLocationLat,omitempty"`
	CurrentLocationLng     *float64 `json:"currentLocationLng,omitempty"`
	LicenseNumber          string   `json:"licenseNumber,omitempty"`
	AadhaarVerified        bool     `json:"aadhaarVerified"`
	PoliceVerificationDone bool     `json:"policeVerificationDone"`
	CreatedAt              string   `json:"createdAt,omitempty"`
	UpdatedAt              string   `json:"updatedAt,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password"`
	FullName string   `json:"fullName"`
	Role     UserRole `json:"role,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type MechanicRegistration struct {
	CurrentLocationLat float64 `json:"currentLocationLat"`
	CurrentLocationLng float64 `json:"currentLocationLng"`
}
