package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the authenticated principal as the messaging core sees it. Account
// management (registration, OTP verification, password handling) lives in the
// identity service; only the attributes relevant to messaging are loaded here.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	InstitutionID *int64    `json:"institution_id,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	Year          *int      `json:"year,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserInfo is the public slice of a user embedded in message and
// conversation payloads.
type UserInfo struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Year      *int      `json:"year,omitempty"`
}

func (u *User) Info() UserInfo {
	return UserInfo{
		ID:        u.ID,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Year:      u.Year,
	}
}

// SameInstitution reports whether the user belongs to the given institution.
// Users without an institution affiliation are members of none.
func (u *User) SameInstitution(institutionID int64) bool {
	return u.InstitutionID != nil && *u.InstitutionID == institutionID
}
