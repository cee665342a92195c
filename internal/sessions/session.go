package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/tokens"
)

// Rejection reasons reported by ValidateRefreshToken. They are recorded in
// logs and audit events only; HTTP callers see a generic failure.
const (
	ReasonRevoked         = "revoked"
	ReasonInvalid         = "invalid or expired"
	ReasonSessionMismatch = "token not found / user missing"
	ReasonInactive        = "inactive account"
)

// ErrAlreadyBlacklisted is returned by BlacklistRepository.Blacklist when a
// live entry for the token already exists.
var ErrAlreadyBlacklisted = errors.New("token already blacklisted")

// TokenPair is the result of an issuance or rotation. It is never retained.
type TokenPair struct {
	AccessToken        string    `json:"accessToken"`
	RefreshToken       string    `json:"refreshToken"`
	AccessTokenExpiry  time.Time `json:"accessTokenExpiry"`
	RefreshTokenExpiry time.Time `json:"refreshTokenExpiry"`
}

// SessionContext carries request metadata used for audit records only.
type SessionContext struct {
	IP        string
	UserAgent string
}

// ValidationResult describes the outcome of ValidateRefreshToken. UserID and
// TokenID are filled whenever they could be decoded, even on rejection.
type ValidationResult struct {
	Valid    bool
	UserID   string
	TokenID  string
	IssuedAt time.Time
	Reason   string
}

// SessionInfo is a point-in-time view of a refresh session. LastUsed is the
// time of the lookup and is not persisted.
type SessionInfo struct {
	UserID   string    `json:"userId"`
	TokenID  string    `json:"tokenId"`
	IssuedAt time.Time `json:"issuedAt"`
	LastUsed time.Time `json:"lastUsed"`
}

// IssuanceError reports a failure to mint or persist a token pair. No pair is
// returned alongside it.
type IssuanceError struct {
	UserID string
	Err    error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issue token pair for user %s: %v", e.UserID, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// Codec signs and verifies bearer tokens. *tokens.Codec implements it.
type Codec interface {
	Sign(subject string, purpose tokens.Purpose, now time.Time) (string, string, error)
	Verify(raw string, purpose tokens.Purpose) (*tokens.Claims, error)
}

// UserStore is the part of the user repository the engine depends on.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	GetByRefreshToken(ctx context.Context, token string) (*models.User, error)
	UpdateRefreshToken(ctx context.Context, id, token string) error
	ClearRefreshTokenIf(ctx context.Context, id, token string) (bool, error)
	FindAll(ctx context.Context) ([]*models.User, error)
}

// BlacklistRepository stores tokens that must never validate again.
type BlacklistRepository interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	// Blacklist inserts the entry only if no live entry exists for the token,
	// otherwise it returns ErrAlreadyBlacklisted.
	Blacklist(ctx context.Context, e models.BlacklistEntry) error
	// SweepExpired removes entries whose ExpiresAt is not after now.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
