package models

import "time"

// BlacklistEntry records a refresh or access token that must never validate
// again. Entries live at least until ExpiresAt and may be removed afterwards.
type BlacklistEntry struct {
	Token     string    `bson:"-" json:"-"`
	UserID    string    `bson:"userId" json:"userId"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
