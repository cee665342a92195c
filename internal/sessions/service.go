package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/audit"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/metrics"
)

const (
	defaultBlacklistTTL       = tokens.RefreshTokenTTL
	defaultCleanupConcurrency = 8
)

// Service is the refresh-token lifecycle engine: issuance, validation,
// rotation, revocation and cleanup. It holds no locks and is safe for
// concurrent use; all coordination goes through the blacklist's conditional
// insert.
type Service struct {
	codec     Codec
	users     UserStore
	blacklist BlacklistRepository
	audit     audit.Sink

	now                func() time.Time
	blacklistTTL       time.Duration
	cleanupConcurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock. Share it with the codec in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBlacklistTTL sets how long rotated and revoked refresh tokens stay
// blacklisted. The default is the full refresh-token lifetime.
func WithBlacklistTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.blacklistTTL = d
		}
	}
}

// WithCleanupConcurrency bounds the number of session fields validated at once
// by CleanupExpiredTokens.
func WithCleanupConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cleanupConcurrency = n
		}
	}
}

func NewService(codec Codec, users UserStore, blacklist BlacklistRepository, sink audit.Sink, opts ...Option) *Service {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	s := &Service{
		codec:              codec,
		users:              users,
		blacklist:          blacklist,
		audit:              sink,
		now:                time.Now,
		blacklistTTL:       defaultBlacklistTTL,
		cleanupConcurrency: defaultCleanupConcurrency,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GenerateTokenPair mints an access and a refresh token for userID and makes
// the refresh token the user's current session, replacing any previous one.
// The caller must have established that the user exists.
func (s *Service) GenerateTokenPair(ctx context.Context, userID string, sc *SessionContext) (*TokenPair, error) {
	now := s.now()
	access, accessID, err := s.codec.Sign(userID, tokens.PurposeAccess, now)
	if err != nil {
		return nil, &IssuanceError{UserID: userID, Err: err}
	}
	refresh, refreshID, err := s.codec.Sign(userID, tokens.PurposeRefresh, now)
	if err != nil {
		return nil, &IssuanceError{UserID: userID, Err: err}
	}
	if err := s.users.UpdateRefreshToken(ctx, userID, refresh); err != nil {
		return nil, &IssuanceError{UserID: userID, Err: fmt.Errorf("persist refresh token: %w", err)}
	}

	pair := &TokenPair{
		AccessToken:        access,
		RefreshToken:       refresh,
		AccessTokenExpiry:  now.Add(tokens.AccessTokenTTL),
		RefreshTokenExpiry: now.Add(tokens.RefreshTokenTTL),
	}
	metrics.TokenPairsIssued.Inc()

	e := s.event(audit.EventTokenIssued, sc, userID, refreshID, true, "")
	e.Metadata = map[string]any{
		"accessTokenId":      accessID,
		"accessTokenExpiry":  pair.AccessTokenExpiry,
		"refreshTokenExpiry": pair.RefreshTokenExpiry,
	}
	s.record(ctx, e)
	return pair, nil
}

// ValidateRefreshToken runs the ordered refresh checks and stops at the first
// failure: blacklist, signature and expiry, session field match, account state.
// An error is returned only when a store could not be consulted.
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (ValidationResult, error) {
	if token == "" {
		return ValidationResult{Reason: ReasonInvalid}, nil
	}
	revoked, err := s.blacklist.IsBlacklisted(ctx, token)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return ValidationResult{Reason: ReasonRevoked}, nil
	}

	claims, err := s.codec.Verify(token, tokens.PurposeRefresh)
	if err != nil {
		logger.Debugf("refresh token rejected by codec: %v", err)
		return ValidationResult{Reason: ReasonInvalid}, nil
	}
	res := ValidationResult{
		UserID:   claims.Subject,
		TokenID:  claims.TokenID(),
		IssuedAt: claims.IssuedAtTime(),
	}

	u, err := s.users.GetByRefreshToken(ctx, token)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("lookup session field: %w", err)
	}
	if u == nil || u.ID != claims.Subject {
		res.Reason = ReasonSessionMismatch
		return res, nil
	}
	if !u.CanAuthenticate() {
		res.Reason = ReasonInactive
		return res, nil
	}
	res.Valid = true
	return res, nil
}

// RefreshAccessToken redeems oldToken for a new pair. Expected rejections,
// including losing a concurrent rotation of the same token, return (nil, nil).
// Rotation is never retried: once blacklisted, oldToken is consumed.
func (s *Service) RefreshAccessToken(ctx context.Context, oldToken string, sc *SessionContext) (*TokenPair, error) {
	res, err := s.ValidateRefreshToken(ctx, oldToken)
	if err != nil {
		metrics.RefreshOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}
	if !res.Valid {
		metrics.RefreshOutcomes.WithLabelValues("rejected").Inc()
		metrics.RefreshRejections.WithLabelValues(res.Reason).Inc()
		s.record(ctx, s.event(audit.EventRefreshFailed, sc, res.UserID, res.TokenID, false, res.Reason))
		return nil, nil
	}

	now := s.now()
	err = s.blacklist.Blacklist(ctx, models.BlacklistEntry{
		Token:     oldToken,
		UserID:    res.UserID,
		Reason:    "rotated",
		ExpiresAt: now.Add(s.blacklistTTL),
		CreatedAt: now,
	})
	if errors.Is(err, ErrAlreadyBlacklisted) {
		metrics.RefreshOutcomes.WithLabelValues("race_lost").Inc()
		s.record(ctx, s.event(audit.EventRefreshRaceLost, sc, res.UserID, res.TokenID, false, "token already rotated"))
		return nil, nil
	}
	if err != nil {
		metrics.RefreshOutcomes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("blacklist rotated token: %w", err)
	}

	pair, err := s.GenerateTokenPair(ctx, res.UserID, sc)
	if err != nil {
		metrics.RefreshOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RefreshOutcomes.WithLabelValues("success").Inc()

	e := s.event(audit.EventTokenRefreshed, sc, res.UserID, res.TokenID, true, "")
	e.Metadata = map[string]any{
		"oldTokenId":         res.TokenID,
		"accessTokenExpiry":  pair.AccessTokenExpiry,
		"refreshTokenExpiry": pair.RefreshTokenExpiry,
	}
	s.record(ctx, e)
	return pair, nil
}

// RevokeRefreshToken blacklists token and clears the owner's session field
// when it still holds that token. Structurally invalid and already revoked
// tokens are accepted; false is returned only together with an error.
func (s *Service) RevokeRefreshToken(ctx context.Context, token, reason string) (bool, error) {
	res, err := s.ValidateRefreshToken(ctx, token)
	if err != nil {
		logger.Warnf("revoke: validation unavailable, blacklisting anyway: %v", err)
		res = ValidationResult{}
	}

	if token != "" {
		now := s.now()
		err := s.blacklist.Blacklist(ctx, models.BlacklistEntry{
			Token:     token,
			UserID:    res.UserID,
			Reason:    reason,
			ExpiresAt: now.Add(s.blacklistTTL),
			CreatedAt: now,
		})
		if err != nil && !errors.Is(err, ErrAlreadyBlacklisted) {
			return false, fmt.Errorf("blacklist revoked token: %w", err)
		}
	}
	if res.UserID != "" {
		if _, err := s.users.ClearRefreshTokenIf(ctx, res.UserID, token); err != nil {
			return false, fmt.Errorf("clear session field: %w", err)
		}
	}

	metrics.Revocations.WithLabelValues("single").Inc()
	s.record(ctx, s.event(audit.EventLogout, nil, res.UserID, res.TokenID, true, reason))
	return true, nil
}

// RevokeAllUserTokens blacklists the user's current refresh token, if any,
// and clears the session field. Unknown users are a no-op.
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID, reason string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if u == nil {
		return nil
	}
	if u.RefreshToken != "" {
		now := s.now()
		err := s.blacklist.Blacklist(ctx, models.BlacklistEntry{
			Token:     u.RefreshToken,
			UserID:    userID,
			Reason:    reason,
			ExpiresAt: now.Add(s.blacklistTTL),
			CreatedAt: now,
		})
		if err != nil && !errors.Is(err, ErrAlreadyBlacklisted) {
			return fmt.Errorf("blacklist current token: %w", err)
		}
	}
	if err := s.users.UpdateRefreshToken(ctx, userID, ""); err != nil {
		return fmt.Errorf("clear session field: %w", err)
	}

	metrics.Revocations.WithLabelValues("all").Inc()
	s.record(ctx, s.event(audit.EventLogoutAll, nil, userID, "", true, reason))
	return nil
}

// GetSessionInfo returns the session behind a valid refresh token, or nil.
func (s *Service) GetSessionInfo(ctx context.Context, token string) (*SessionInfo, error) {
	res, err := s.ValidateRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, nil
	}
	return &SessionInfo{
		UserID:   res.UserID,
		TokenID:  res.TokenID,
		IssuedAt: res.IssuedAt,
		LastUsed: s.now(),
	}, nil
}

// CleanupExpiredTokens clears session fields whose token no longer validates
// and sweeps expired blacklist entries. It returns the number of records
// removed from both stores and is safe to run repeatedly.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int, error) {
	all, err := s.users.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	var cleared atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cleanupConcurrency)
	for _, u := range all {
		if u.RefreshToken == "" {
			continue
		}
		u := u
		g.Go(func() error {
			res, err := s.ValidateRefreshToken(gctx, u.RefreshToken)
			if err != nil {
				return fmt.Errorf("validate session of user %s: %w", u.ID, err)
			}
			if res.Valid {
				return nil
			}
			ok, err := s.users.ClearRefreshTokenIf(gctx, u.ID, u.RefreshToken)
			if err != nil {
				return fmt.Errorf("clear session of user %s: %w", u.ID, err)
			}
			if ok {
				logger.Debugf("cleanup: cleared session of user %s (%s)", u.ID, res.Reason)
				cleared.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(cleared.Load()), err
	}

	swept, err := s.blacklist.SweepExpired(ctx, s.now())
	if err != nil {
		return int(cleared.Load()), fmt.Errorf("sweep blacklist: %w", err)
	}

	n := int(cleared.Load())
	metrics.CleanupRemoved.WithLabelValues("session_field").Add(float64(n))
	metrics.CleanupRemoved.WithLabelValues("blacklist").Add(float64(swept))
	if n+swept > 0 {
		e := s.event(audit.EventSessionsCleanup, nil, "", "", true, "")
		e.Metadata = map[string]any{"sessionFields": n, "blacklistEntries": swept}
		s.record(ctx, e)
	}
	return n + swept, nil
}

// RevokeAccessToken blacklists a still-valid access token until it would have
// expired. Tokens that no longer verify are already unusable and are ignored.
func (s *Service) RevokeAccessToken(ctx context.Context, raw string) error {
	claims, err := s.codec.Verify(raw, tokens.PurposeAccess)
	if err != nil {
		return nil
	}
	err = s.blacklist.Blacklist(ctx, models.BlacklistEntry{
		Token:     raw,
		UserID:    claims.Subject,
		Reason:    "access revoked",
		ExpiresAt: claims.ExpiresAtTime(),
		CreatedAt: s.now(),
	})
	if errors.Is(err, ErrAlreadyBlacklisted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("blacklist access token: %w", err)
	}
	metrics.Revocations.WithLabelValues("access").Inc()
	s.record(ctx, s.event(audit.EventAccessRevoked, nil, claims.Subject, claims.TokenID(), true, ""))
	return nil
}

// IsAccessTokenRevoked reports whether raw was revoked by RevokeAccessToken.
func (s *Service) IsAccessTokenRevoked(ctx context.Context, raw string) (bool, error) {
	return s.blacklist.IsBlacklisted(ctx, raw)
}

func (s *Service) event(t audit.EventType, sc *SessionContext, userID, tokenID string, success bool, detail string) audit.Event {
	e := audit.NewEvent(t, success, detail)
	e.Timestamp = s.now().UTC()
	e.UserID = userID
	e.TokenID = tokenID
	if sc != nil {
		e.IP = sc.IP
		e.UserAgent = sc.UserAgent
	}
	return e
}

// record never fails the caller; audit delivery is best-effort.
func (s *Service) record(ctx context.Context, e audit.Event) {
	if err := s.audit.Record(ctx, e); err != nil {
		metrics.AuditFailures.WithLabelValues(string(e.Type)).Inc()
		logger.Warnf("audit %s for user %s: %v", e.Type, e.UserID, err)
	}
}
