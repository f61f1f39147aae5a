package auth

import "time"

// Self-registration always yields RolePCM. Admin accounts are provisioned
// directly in the users table, with jurisdiction set for the scoped roles.
const (
	RolePCM         = "pcm"
	RoleAdmin       = "admin"
	RoleStateAdmin  = "state_admin"
	RoleSchoolAdmin = "school_admin"
)

// IsAdmin reports whether role may use the monitoring console.
func IsAdmin(role string) bool {
	switch role {
	case RoleAdmin, RoleStateAdmin, RoleSchoolAdmin:
		return true
	}
	return false
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	FullName       string    `json:"full_name"`
	Phone          string    `json:"phone"`
	Role           string    `json:"role"`
	Jurisdiction   string    `json:"jurisdiction,omitempty"`
	NextOfKin      string    `json:"next_of_kin"`
	NextOfKinEmail string    `json:"next_of_kin_email"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=6"`
	FullName       string `json:"full_name" validate:"required"`
	Phone          string `json:"phone"`
	NextOfKin      string `json:"next_of_kin"`
	NextOfKinEmail string `json:"next_of_kin_email" validate:"omitempty,email"`
}

// ProfileUpdate replaces the editable profile fields.
type ProfileUpdate struct {
	FullName       string `json:"full_name" validate:"required"`
	Phone          string `json:"phone"`
	NextOfKin      string `json:"next_of_kin"`
	NextOfKinEmail string `json:"next_of_kin_email" validate:"omitempty,email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
