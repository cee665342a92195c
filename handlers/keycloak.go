package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gogotex/gogotex/backend/auth-sessions/pkg/logger"
)

var errNoIDToken = errors.New("token response has no id_token")

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// requestAuthCodeToken exchanges an authorization code at the identity
// provider's token endpoint. Client credentials go in the form body first
// (client_secret_post); on 401 the request is repeated with HTTP Basic auth.
// A transient "Code not valid" is retried once.
func requestAuthCodeToken(ctx context.Context, client *http.Client, tokenURL, clientID, clientSecret, code, redirectURI string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	body := form.Encode()

	post := func(basic bool) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if basic && clientSecret != "" {
			req.SetBasicAuth(clientID, clientSecret)
		}
		return client.Do(req)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := post(false)
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			logger.Warnf("requestAuthCodeToken: primary exchange returned 401; retrying with HTTP Basic auth")
			resp, err = post(true)
		}
		if err != nil {
			if attempt == 2 {
				return nil, err
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		tr, retry, err := decodeTokenResponse(resp, attempt == 1)
		if retry {
			time.Sleep(150 * time.Millisecond)
			continue
		}
		return tr, err
	}
	return nil, fmt.Errorf("token exchange failed after retries")
}

func decodeTokenResponse(resp *http.Response, mayRetry bool) (*tokenResponse, bool, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		bodyStr := string(b)
		if mayRetry && resp.StatusCode == http.StatusBadRequest && strings.Contains(bodyStr, "Code not valid") {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, bodyStr)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, false, err
	}
	if tr.IDToken == "" {
		return nil, false, errNoIDToken
	}
	return &tr, false, nil
}
