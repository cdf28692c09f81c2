package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowbridge/connectkit/connector"
	"github.com/flowbridge/connectkit/template"
)

func TestApplyBearerStaticToken(t *testing.T) {
	var a = New(connector.AuthSpec{Type: connector.AuthBearer, Token: "{{ config.token }}"}, nil)
	var tctx = template.NewContext()
	tctx.Config["token"] = "abc"

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, a.Apply(context.Background(), req, tctx))
	require.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
}

func TestApplyAPIKeyInQuery(t *testing.T) {
	var a = New(connector.AuthSpec{
		Type:     connector.AuthAPIKey,
		Location: connector.APIKeyQuery,
		Name:     "api_key",
		Value:    "{{ config.key }}",
	}, nil)
	var tctx = template.NewContext()
	tctx.Config["key"] = "secret"

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/v1", nil)
	require.NoError(t, a.Apply(context.Background(), req, tctx))
	require.Equal(t, "secret", req.URL.Query().Get("api_key"))
}

func TestApplyBasicAuth(t *testing.T) {
	var a = New(connector.AuthSpec{Type: connector.AuthBasic, Username: "u", Password: "p"}, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, a.Apply(context.Background(), req, template.NewContext()))
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	require.Equal(t, "u", user)
	require.Equal(t, "p", pass)
}

func TestOAuth2ClientCredentialsCachesToken(t *testing.T) {
	var calls int
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok-1", "expires_in": 3600})
	}))
	defer server.Close()

	var a = New(connector.AuthSpec{
		Type:         connector.AuthOAuth2CC,
		TokenURL:     server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}, server.Client())

	var tctx = template.NewContext()
	req1, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, a.Apply(context.Background(), req1, tctx))
	req2, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, a.Apply(context.Background(), req2, tctx))

	require.Equal(t, "Bearer tok-1", req1.Header.Get("Authorization"))
	require.Equal(t, "Bearer tok-1", req2.Header.Get("Authorization"))
	require.Equal(t, 1, calls, "second Apply should reuse the cached token, not refetch")
}

func TestTokenRefreshErrorOnNon2xx(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad credentials"))
	}))
	defer server.Close()

	var a = New(connector.AuthSpec{
		Type:     connector.AuthOAuth2CC,
		TokenURL: server.URL,
	}, server.Client())

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	var err = a.Apply(context.Background(), req, template.NewContext())
	require.Error(t, err)
	var trErr *TokenRefreshError
	require.ErrorAs(t, err, &trErr)
	require.Equal(t, http.StatusUnauthorized, trErr.Status)
}

func TestCustomHeadersInsertedAsIs(t *testing.T) {
	var a = New(connector.AuthSpec{Type: connector.AuthCustomHeaders, Headers: map[string]string{"X-Api-Version": "2024"}}, nil)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, a.Apply(context.Background(), req, template.NewContext()))
	require.Equal(t, "2024", req.Header.Get("X-Api-Version"))
}
