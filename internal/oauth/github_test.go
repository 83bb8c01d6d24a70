package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestGitHub(t *testing.T, emails string) *GitHub {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "code-123", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_test", "token_type": "bearer", "scope": "read:user,user:email"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id": 42, "login": "octo", "name": "", "avatar_url": "https://avatars/octo"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(emails))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g := NewGitHub("client", "secret", "http://localhost/callback")
	g.conf.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/login/oauth/authorize", TokenURL: srv.URL + "/login/oauth/access_token"}
	g.apiBase = srv.URL
	return g
}

func TestAuthCodeURLCarriesStateAndScopes(t *testing.T) {
	g := NewGitHub("client", "secret", "http://localhost/callback")
	parsed, err := url.Parse(g.AuthCodeURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", parsed.Host)
	assert.Equal(t, "state-1", parsed.Query().Get("state"))
	assert.Equal(t, "read:user user:email", parsed.Query().Get("scope"))
}

func TestExchangePrefersPrimaryVerifiedEmail(t *testing.T) {
	g := newTestGitHub(t, `[
		{"email": "old@example.com", "primary": false, "verified": true},
		{"email": "Octo@Example.com", "primary": true, "verified": true},
		{"email": "unverified@example.com", "primary": false, "verified": false}
	]`)

	profile, err := g.Exchange(context.Background(), "code-123")
	require.NoError(t, err)
	assert.Equal(t, "42", profile.AccountID)
	assert.Equal(t, "octo", profile.Name)
	assert.Equal(t, "octo@example.com", profile.Email)
	assert.Equal(t, "gho_test", profile.AccessToken)
}

func TestExchangeWithoutVerifiedEmailFails(t *testing.T) {
	g := newTestGitHub(t, `[{"email": "x@example.com", "primary": true, "verified": false}]`)

	_, err := g.Exchange(context.Background(), "code-123")
	assert.True(t, errors.Is(err, ErrNoVerifiedEmail))
}
