package models

import "time"

// User represents an application user (mapped from Keycloak claims).
//
// RefreshToken is the user's session field: the single refresh token currently
// recognised for this account, or empty when the user has no active session.
type User struct {
	ID           string     `bson:"_id,omitempty" json:"id"`
	Sub          string     `bson:"sub" json:"sub"` // OIDC subject
	Email        string     `bson:"email" json:"email"`
	Name         string     `bson:"name" json:"name"`
	RefreshToken string     `bson:"refreshToken,omitempty" json:"-"`
	IsActive     bool       `bson:"isActive" json:"isActive"`
	DeletedAt    *time.Time `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// CanAuthenticate reports whether the account is active and not soft-deleted.
func (u *User) CanAuthenticate() bool {
	return u != nil && u.IsActive && u.DeletedAt == nil
}
