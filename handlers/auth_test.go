package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/audit"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/config"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/oidc"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/sessions"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/tokens"
	"github.com/gogotex/gogotex/backend/auth-sessions/internal/users"
	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/middleware"
)

const testSecret = "handlers-test-secret-0123456789abcdef"

type testEnv struct {
	r     *gin.Engine
	cfg   *config.Config
	users *users.Service
	svc   *sessions.Service
}

func newTestEnv(t *testing.T, idv middleware.Verifier) *testEnv {
	t.Helper()
	codec, err := tokens.NewCodec(testSecret, "gogotex-auth")
	require.NoError(t, err)
	repo := users.NewMemoryRepository()
	svc := sessions.NewService(codec, repo, sessions.NewMemoryBlacklist(nil), audit.NoopSink{})
	uSvc := users.NewService(repo)
	cfg := &config.Config{}

	h := NewAuthHandler(cfg, uSvc, svc, idv)
	r := gin.New()
	h.Register(r.Group("/"), middleware.AuthMiddleware(tokens.NewAccessVerifier(codec), middleware.WithRevocationCheck(svc)))
	return &testEnv{r: r, cfg: cfg, users: uSvc, svc: svc}
}

func idToken(claims map[string]interface{}) string {
	b, _ := json.Marshal(claims)
	return "hdr." + base64.RawURLEncoding.EncodeToString(b) + ".sig"
}

func (e *testEnv) do(method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

type loginBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID  string `json:"id"`
		Sub string `json:"sub"`
	} `json:"user"`
}

func (e *testEnv) login(t *testing.T, sub string) loginBody {
	t.Helper()
	body, _ := json.Marshal(gin.H{"id_token": idToken(map[string]interface{}{"sub": sub, "email": sub + "@example.com", "name": "Alice"})})
	w := e.do(http.MethodPost, "/auth/login", string(body), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got loginBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func refreshBody(tok string) string {
	b, _ := json.Marshal(gin.H{"refresh_token": tok})
	return string(b)
}

func TestLogin_IDToken(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	got := e.login(t, "kc-alice")
	assert.NotEmpty(t, got.AccessToken)
	assert.NotEmpty(t, got.RefreshToken)
	assert.Equal(t, "kc-alice", got.User.Sub)
	assert.NotEmpty(t, got.User.ID)
}

func TestLogin_AuthCodeExchange(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "abc" || r.Form.Get("grant_type") != "authorization_code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "at", "id_token": idToken(map[string]interface{}{"sub": "kc-code"})})
	}))
	defer tokenSrv.Close()
	e.cfg.Keycloak.URL = tokenSrv.URL
	e.cfg.Keycloak.ClientID = "cid"
	e.cfg.Keycloak.ClientSecret = "csecret"

	w := e.do(http.MethodPost, "/auth/login", `{"code":"abc","redirect_uri":"http://localhost/cb"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got loginBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "kc-code", got.User.Sub)
	assert.NotEmpty(t, got.RefreshToken)
}

func TestLogin_Rejections(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	require.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/auth/login", `{}`, "").Code)
	require.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/auth/login", `{"code":"abc"}`, "").Code)
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/auth/login", `{"id_token":"garbage"}`, "").Code)

	noIDP := newTestEnv(t, nil)
	require.Equal(t, http.StatusServiceUnavailable, noIDP.do(http.MethodPost, "/auth/login", `{"id_token":"x.y.z"}`, "").Code)
}

func TestLogin_DisabledAccount(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	first := e.login(t, "kc-disabled")
	require.NoError(t, e.users.Deactivate(context.Background(), first.User.ID))

	body, _ := json.Marshal(gin.H{"id_token": idToken(map[string]interface{}{"sub": "kc-disabled"})})
	w := e.do(http.MethodPost, "/auth/login", string(body), "")
	require.Equal(t, http.StatusForbidden, w.Code)

	// the earlier session is rejected by the account-state check
	w = e.do(http.MethodPost, "/auth/refresh", refreshBody(first.RefreshToken), "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	first := e.login(t, "kc-bob")

	w := e.do(http.MethodPost, "/auth/refresh", refreshBody(first.RefreshToken), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pair sessions.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEqual(t, first.RefreshToken, pair.RefreshToken)
	require.False(t, pair.RefreshTokenExpiry.IsZero())

	w = e.do(http.MethodPost, "/auth/refresh", refreshBody(first.RefreshToken), "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"refresh failed"}`, w.Body.String())

	require.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/auth/refresh", `{}`, "").Code)
}

type failingSessions struct {
	SessionService
	err error
}

func (f failingSessions) RefreshAccessToken(context.Context, string, *sessions.SessionContext) (*sessions.TokenPair, error) {
	return nil, f.err
}

func TestRefresh_InfrastructureFailure(t *testing.T) {
	h := NewAuthHandler(&config.Config{}, nil, failingSessions{err: errors.New("redis down")}, nil)
	r := gin.New()
	r.POST("/auth/refresh", h.Refresh)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(refreshBody("tok")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "redis")
}

func TestLogout_RevokesRefreshAndAccess(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	s := e.login(t, "kc-carol")

	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/v1/me", "", s.AccessToken).Code)

	w := e.do(http.MethodPost, "/auth/logout", refreshBody(s.RefreshToken), s.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/auth/refresh", refreshBody(s.RefreshToken), "").Code)
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/v1/me", "", s.AccessToken).Code)

	// logging out again is still a success
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/auth/logout", refreshBody(s.RefreshToken), "").Code)
}

func TestLogoutAll(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	s := e.login(t, "kc-dave")

	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/auth/logout-all", "", "").Code)

	w := e.do(http.MethodPost, "/auth/logout-all", "", s.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/auth/refresh", refreshBody(s.RefreshToken), "").Code)
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/v1/me", "", s.AccessToken).Code)

	// a fresh login works afterwards
	again := e.login(t, "kc-dave")
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/auth/refresh", refreshBody(again.RefreshToken), "").Code)
}

func TestSession(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	s := e.login(t, "kc-erin")

	w := e.do(http.MethodPost, "/auth/session", refreshBody(s.RefreshToken), "")
	require.Equal(t, http.StatusOK, w.Code)
	var info sessions.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Equal(t, s.User.ID, info.UserID)
	require.NotEmpty(t, info.TokenID)

	// introspection does not consume the token
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/auth/refresh", refreshBody(s.RefreshToken), "").Code)
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/auth/session", refreshBody(s.RefreshToken), "").Code)
}

func TestMe(t *testing.T) {
	e := newTestEnv(t, oidc.NewInsecureVerifier())
	s := e.login(t, "kc-fay")

	w := e.do(http.MethodGet, "/api/v1/me", "", s.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		User struct {
			Sub   string `json:"sub"`
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "kc-fay", got.User.Sub)
	require.Equal(t, "kc-fay@example.com", got.User.Email)
	require.NotContains(t, w.Body.String(), "refreshToken")

	// a refresh token is not accepted as a bearer access token
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/v1/me", "", s.RefreshToken).Code)
}
