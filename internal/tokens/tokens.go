package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/middleware"
)

// Token lifetimes are fixed and not configurable.
const (
	AccessTokenTTL  = 30 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Purpose separates access tokens from refresh tokens so one can never be
// presented in place of the other.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

// TTL returns the fixed lifetime for tokens of this purpose.
func (p Purpose) TTL() time.Duration {
	if p == PurposeRefresh {
		return RefreshTokenTTL
	}
	return AccessTokenTTL
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongPurpose = errors.New("token purpose mismatch")
)

// Claims is the payload carried by every token the codec signs.
type Claims struct {
	Purpose Purpose `json:"typ"`
	jwt.RegisteredClaims
}

// TokenID returns the unique per-issuance id (jti).
func (c *Claims) TokenID() string { return c.ID }

// IssuedAtTime returns iat, or the zero time when absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec signs and verifies HS256 bearer tokens.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the clock used when validating exp/iat.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret, issuer string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("tokens: empty signing secret")
	}
	c := &Codec{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Sign mints a token for subject with a fresh token id. iat is now and exp is
// now plus the purpose lifetime.
func (c *Codec) Sign(subject string, purpose Purpose, now time.Time) (string, string, error) {
	if subject == "" {
		return "", "", errors.New("tokens: empty subject")
	}
	jti := uuid.NewString()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(purpose.TTL())),
		},
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := jt.SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, jti, nil
}

// Verify checks signature, algorithm, issuer, expiry and purpose.
func (c *Codec) Verify(raw string, purpose Purpose) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalidToken)
	}
	return &claims, nil
}

// accessToken adapts verified access claims to middleware.Token.
type accessToken struct {
	claims *Claims
}

func (t *accessToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// AccessVerifier verifies bearer access tokens for AuthMiddleware.
type AccessVerifier struct {
	codec *Codec
}

func NewAccessVerifier(c *Codec) *AccessVerifier { return &AccessVerifier{codec: c} }

func (v *AccessVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims, err := v.codec.Verify(raw, PurposeAccess)
	if err != nil {
		return nil, err
	}
	return &accessToken{claims: claims}, nil
}
