package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokens(w http.ResponseWriter, access, id string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"access_token": access, "id_token": id})
}

func TestRequestAuthCodeToken(t *testing.T) {
	codeNotValid := func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Code not valid"}`))
	}

	cases := []struct {
		name       string
		handler    func(calls int32, w http.ResponseWriter, r *http.Request)
		wantAccess string
		wantErr    string
		wantCalls  int32
	}{
		{
			name: "form credentials accepted",
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				_ = r.ParseForm()
				if r.Form.Get("client_secret") != "csecret" || r.Form.Get("redirect_uri") != "http://cb" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				writeTokens(w, "at", "idtok")
			},
			wantAccess: "at",
			wantCalls:  1,
		},
		{
			name: "code rejected twice",
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				codeNotValid(w)
			},
			wantErr:   "token endpoint returned 400",
			wantCalls: 2,
		},
		{
			name: "transient code rejection retried",
			handler: func(calls int32, w http.ResponseWriter, _ *http.Request) {
				if calls == 1 {
					codeNotValid(w)
					return
				}
				writeTokens(w, "retried", "idtok")
			},
			wantAccess: "retried",
			wantCalls:  2,
		},
		{
			name: "falls back to basic auth on 401",
			handler: func(_ int32, w http.ResponseWriter, r *http.Request) {
				if id, secret, ok := r.BasicAuth(); ok && id == "cid" && secret == "csecret" {
					writeTokens(w, "basic-ok", "idtok")
					return
				}
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized_client"}`))
			},
			wantAccess: "basic-ok",
			wantCalls:  2,
		},
		{
			name: "missing id_token",
			handler: func(_ int32, w http.ResponseWriter, _ *http.Request) {
				writeTokens(w, "at", "")
			},
			wantErr:   errNoIDToken.Error(),
			wantCalls: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tc.handler(calls.Add(1), w, r)
			}))
			defer srv.Close()

			tr, err := requestAuthCodeToken(context.Background(), srv.Client(), srv.URL, "cid", "csecret", "code", "http://cb")
			assert.Equal(t, tc.wantCalls, calls.Load())
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantAccess, tr.AccessToken)
			assert.Equal(t, "idtok", tr.IDToken)
		})
	}
}
