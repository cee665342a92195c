package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/config"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/sessions"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/middleware"
)

// SessionService is the session engine as used by the HTTP layer.
type SessionService interface {
	GenerateTokenPair(ctx context.Context, userID string, sc *sessions.SessionContext) (*sessions.TokenPair, error)
	RefreshAccessToken(ctx context.Context, oldToken string, sc *sessions.SessionContext) (*sessions.TokenPair, error)
	RevokeRefreshToken(ctx context.Context, token, reason string) (bool, error)
	RevokeAllUserTokens(ctx context.Context, userID, reason string) error
	GetSessionInfo(ctx context.Context, token string) (*sessions.SessionInfo, error)
	RevokeAccessToken(ctx context.Context, raw string) error
}

// UserService resolves accounts from identity-provider claims.
type UserService interface {
	UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// LoginRequest carries either an id_token already obtained from the identity
// provider or an authorization code to exchange for one.
type LoginRequest struct {
	IDToken     string `json:"id_token"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type loginResponse struct {
	*sessions.TokenPair
	User *models.User `json:"user"`
}

// errRefreshFailed is the only rejection detail refresh callers ever see.
const errRefreshFailed = "refresh failed"

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg        *config.Config
	users      UserService
	sessions   SessionService
	idTokens   middleware.Verifier
	httpClient *http.Client
}

// NewAuthHandler wires the handler. idTokens may be nil when no identity
// provider is configured; login then only fails with 503.
func NewAuthHandler(cfg *config.Config, u UserService, s SessionService, idTokens middleware.Verifier) *AuthHandler {
	return &AuthHandler{
		cfg:        cfg,
		users:      u,
		sessions:   s,
		idTokens:   idTokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Register mounts /auth routes and /api/v1/me. requireAuth guards the routes
// that act on the caller's own account.
func (h *AuthHandler) Register(rg *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
	a.POST("/session", h.Session)
	a.POST("/logout-all", requireAuth, h.LogoutAll)

	rg.GET("/api/v1/me", requireAuth, h.Me)
}

func sessionContext(c *gin.Context) *sessions.SessionContext {
	return &sessions.SessionContext{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// Login verifies the caller's identity with the identity provider, upserts the
// account and issues a fresh token pair, replacing any previous session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.idTokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity provider not configured"})
		return
	}
	ctx := c.Request.Context()

	idToken := req.IDToken
	if idToken == "" {
		if req.Code == "" || req.RedirectURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id_token, or code and redirect_uri, required"})
			return
		}
		logger.Debugf("Login(auth_code): received code length=%d redirect_uri=%s", len(req.Code), req.RedirectURI)
		kc := h.cfg.Keycloak
		tr, err := requestAuthCodeToken(ctx, h.httpClient, kc.TokenURL(), kc.ClientID, kc.ClientSecret, req.Code, req.RedirectURI)
		if err != nil {
			logger.Warnf("auth-code token exchange error (redirect_uri=%q): %v", req.RedirectURI, err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		idToken = tr.IDToken
	}

	verified, err := h.idTokens.Verify(ctx, idToken)
	if err != nil {
		logger.Debugf("id token rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
		return
	}
	var claims map[string]interface{}
	if err := verified.Claims(&claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
		return
	}

	u, err := h.users.UpsertFromClaims(ctx, claims)
	if err != nil {
		logger.Errorf("user upsert error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user upsert failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
		return
	}
	if !u.CanAuthenticate() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	pair, err := h.sessions.GenerateTokenPair(ctx, u.ID, sessionContext(c))
	if err != nil {
		logger.Errorf("failed to issue token pair: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{TokenPair: pair, User: u})
}

// Refresh redeems a refresh token for a new pair. All rejections look the same
// to the caller.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := h.sessions.RefreshAccessToken(c.Request.Context(), req.RefreshToken, sessionContext(c))
	if err != nil {
		logger.Errorf("refresh: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errRefreshFailed})
		return
	}
	if pair == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errRefreshFailed})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout revokes the refresh token and, when a bearer access token is
// supplied, that access token too.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if at, ok := middleware.BearerToken(c); ok {
		if err := h.sessions.RevokeAccessToken(ctx, at); err != nil {
			logger.Errorf("logout: revoke access token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke access token"})
			return
		}
	}
	if _, err := h.sessions.RevokeRefreshToken(ctx, req.RefreshToken, "logout"); err != nil {
		logger.Errorf("logout: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// LogoutAll ends every session of the authenticated user.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	ctx := c.Request.Context()
	sub := middleware.Subject(c)
	if sub == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if err := h.sessions.RevokeAllUserTokens(ctx, sub, "logout_all"); err != nil {
		logger.Errorf("logout-all for %s: %v", sub, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke sessions"})
		return
	}
	if at := c.GetString(middleware.AccessTokenKey); at != "" {
		if err := h.sessions.RevokeAccessToken(ctx, at); err != nil {
			logger.Warnf("logout-all: revoke access token for %s: %v", sub, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "all sessions revoked"})
}

// Session reports the session behind a refresh token without consuming it.
func (h *AuthHandler) Session(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := h.sessions.GetSessionInfo(c.Request.Context(), req.RefreshToken)
	if err != nil {
		logger.Errorf("session info: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	if info == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// Me returns the authenticated user's account.
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.users.GetByID(c.Request.Context(), middleware.Subject(c))
	if err != nil {
		logger.Errorf("me: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
