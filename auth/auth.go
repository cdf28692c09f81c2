// Package auth implements C3: the per-scheme authenticator and its
// single-flight token cache, following the double-checked
// locking pattern estuary/flow's driver layer uses to collapse concurrent
// token refreshes into one network call.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flowbridge/connectkit/connector"
	"github.com/flowbridge/connectkit/jsonpath"
	"github.com/flowbridge/connectkit/template"
)

// AuthError reports invalid credentials surfaced by the remote side.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "auth error: " + e.Message }

// TokenRefreshError reports a non-2xx response from a token endpoint.
type TokenRefreshError struct {
	Status int
	Body   string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: status %d: %s", e.Status, e.Body)
}

// JWTGenerationError wraps a private-key parse or signing failure.
type JWTGenerationError struct {
	Err error
}

func (e *JWTGenerationError) Error() string { return fmt.Sprintf("jwt generation: %v", e.Err) }
func (e *JWTGenerationError) Unwrap() error { return e.Err }

// cachedToken is the single-flight token cache backing every scheme that
// fetches a token over the network.
type cachedToken struct {
	mu        sync.RWMutex
	value     string
	expiresAt time.Time
}

func (c *cachedToken) valid() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == "" {
		return "", false
	}
	if !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.value, true
}

func (c *cachedToken) set(value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	if ttl > 0 {
		c.expiresAt = time.Now().Add(ttl)
	} else {
		c.expiresAt = time.Time{}
	}
}

// getOrRefresh implements double-checked-locking contract:
// a shared-lock read first, then an exclusive-lock re-check before the
// network fetch, so concurrent callers collapse to a single refresh.
func (c *cachedToken) getOrRefresh(ctx context.Context, fetch func(context.Context) (string, time.Duration, error)) (string, error) {
	if v, ok := c.valid(); ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != "" && (c.expiresAt.IsZero() || time.Now().Before(c.expiresAt)) {
		return c.value, nil
	}

	v, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.value = v
	if ttl > 0 {
		c.expiresAt = time.Now().Add(ttl)
	} else {
		c.expiresAt = time.Time{}
	}
	return c.value, nil
}

// Authenticator applies a connector's configured auth scheme to outgoing
// requests.
type Authenticator struct {
	spec   connector.AuthSpec
	client *http.Client
	cache  *cachedToken
}

// New builds an Authenticator for the given spec. httpClient is used for
// any token-fetch network calls the scheme requires.
func New(spec connector.AuthSpec, httpClient *http.Client) *Authenticator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Authenticator{spec: spec, client: httpClient, cache: &cachedToken{}}
}

// Apply stamps req in place according to the configured scheme, fetching
// or refreshing any cached token as needed.
func (a *Authenticator) Apply(ctx context.Context, req *http.Request, tctx *template.Context) error {
	switch a.spec.Type {
	case "", connector.AuthNone:
		return nil

	case connector.AuthAPIKey:
		value, err := template.Render(a.spec.Value, tctx)
		if err != nil {
			return err
		}
		if a.spec.Prefix != "" {
			value = a.spec.Prefix + value
		}
		if a.spec.Location == connector.APIKeyQuery {
			var q = req.URL.Query()
			q.Set(a.spec.Name, value)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(a.spec.Name, value)
		}
		return nil

	case connector.AuthBasic:
		user, err := template.Render(a.spec.Username, tctx)
		if err != nil {
			return err
		}
		pass, err := template.Render(a.spec.Password, tctx)
		if err != nil {
			return err
		}
		req.SetBasicAuth(user, pass)
		return nil

	case connector.AuthBearer:
		token, err := template.Render(a.spec.Token, tctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case connector.AuthOAuth2CC:
		token, err := a.cache.getOrRefresh(ctx, a.fetchClientCredentials(tctx))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case connector.AuthOAuth2Refresh:
		token, err := a.cache.getOrRefresh(ctx, a.fetchRefreshToken(tctx))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case connector.AuthSessionToken:
		token, err := a.cache.getOrRefresh(ctx, a.fetchSessionToken(tctx))
		if err != nil {
			return err
		}
		var header = a.spec.TokenHeader
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, token)
		return nil

	case connector.AuthJWT:
		token, err := a.cache.getOrRefresh(ctx, a.fetchJWT(tctx))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil

	case connector.AuthCustomHeaders:
		for k, v := range a.spec.Headers {
			rv, err := template.Render(v, tctx)
			if err != nil {
				return err
			}
			req.Header.Set(k, rv)
		}
		return nil

	default:
		return fmt.Errorf("unknown auth scheme %q", a.spec.Type)
	}
}

func (a *Authenticator) fetchClientCredentials(tctx *template.Context) func(context.Context) (string, time.Duration, error) {
	return func(ctx context.Context) (string, time.Duration, error) {
		tokenURL, err := template.Render(a.spec.TokenURL, tctx)
		if err != nil {
			return "", 0, err
		}
		clientID, err := template.Render(a.spec.ClientID, tctx)
		if err != nil {
			return "", 0, err
		}
		clientSecret, err := template.Render(a.spec.ClientSecret, tctx)
		if err != nil {
			return "", 0, err
		}
		var form = url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		}
		if a.spec.Scope != "" {
			scope, err := template.Render(a.spec.Scope, tctx)
			if err != nil {
				return "", 0, err
			}
			form.Set("scope", scope)
		}
		return a.postForm(ctx, tokenURL, form)
	}
}

func (a *Authenticator) fetchRefreshToken(tctx *template.Context) func(context.Context) (string, time.Duration, error) {
	return func(ctx context.Context) (string, time.Duration, error) {
		tokenURL, err := template.Render(a.spec.TokenURL, tctx)
		if err != nil {
			return "", 0, err
		}
		refreshToken, err := template.Render(a.spec.RefreshToken, tctx)
		if err != nil {
			return "", 0, err
		}
		clientID, err := template.Render(a.spec.ClientID, tctx)
		if err != nil {
			return "", 0, err
		}
		clientSecret, err := template.Render(a.spec.ClientSecret, tctx)
		if err != nil {
			return "", 0, err
		}
		var form = url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		}
		return a.postForm(ctx, tokenURL, form)
	}
}

func (a *Authenticator) postForm(ctx context.Context, tokenURL string, form url.Values) (string, time.Duration, error) {
	var req, err = http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := a.doAndRead(req)
	if err != nil {
		return "", 0, err
	}
	if status < 200 || status >= 300 {
		return "", 0, &TokenRefreshError{Status: status, Body: snippet(body)}
	}

	doc, ttl, err := decodeTokenResponse(body, "access_token", "expires_in")
	if err != nil {
		return "", 0, err
	}
	return doc, ttl, nil
}

func (a *Authenticator) fetchSessionToken(tctx *template.Context) func(context.Context) (string, time.Duration, error) {
	return func(ctx context.Context) (string, time.Duration, error) {
		loginURL, err := template.Render(a.spec.LoginURL, tctx)
		if err != nil {
			return "", 0, err
		}
		rendered, err := template.RenderValue(a.spec.LoginBody, tctx)
		if err != nil {
			return "", 0, err
		}

		body, err := jsonMarshal(rendered)
		if err != nil {
			return "", 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(string(body)))
		if err != nil {
			return "", 0, fmt.Errorf("building login request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		respBody, status, err := a.doAndRead(req)
		if err != nil {
			return "", 0, err
		}
		if status < 200 || status >= 300 {
			return "", 0, &TokenRefreshError{Status: status, Body: snippet(respBody)}
		}

		doc, err := jsonUnmarshalAny(respBody)
		if err != nil {
			return "", 0, err
		}
		token, ok := jsonpath.ExtractString(doc, a.spec.TokenPath)
		if !ok {
			return "", 0, &AuthError{Message: "session token not found at " + a.spec.TokenPath}
		}

		var ttl time.Duration
		if a.spec.ExpiresInPath != "" {
			if v, ok := jsonpath.Extract(doc, a.spec.ExpiresInPath); ok {
				if secs, ok := v.(float64); ok {
					ttl = time.Duration(secs) * time.Second
				}
			}
		}
		return token, ttl, nil
	}
}

func (a *Authenticator) fetchJWT(tctx *template.Context) func(context.Context) (string, time.Duration, error) {
	return func(ctx context.Context) (string, time.Duration, error) {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.spec.PrivateKeyPEM))
		if err != nil {
			return "", 0, &JWTGenerationError{Err: err}
		}

		var expiry = a.spec.ExpirySecs
		if expiry <= 0 {
			expiry = 300
		}
		var now = time.Now()
		var claims = jwt.MapClaims{
			"iss": a.spec.Issuer,
			"aud": a.spec.Audience,
			"iat": now.Unix(),
			"exp": now.Add(time.Duration(expiry) * time.Second).Unix(),
		}
		if a.spec.Subject != "" {
			claims["sub"] = a.spec.Subject
		}
		for k, v := range a.spec.ExtraClaims {
			claims[k] = v
		}

		var method = jwt.SigningMethodRS256
		var token = jwt.NewWithClaims(method, claims)
		var signed, sErr = token.SignedString(key)
		if sErr != nil {
			return "", 0, &JWTGenerationError{Err: sErr}
		}

		if a.spec.TokenURL == "" {
			return signed, time.Duration(expiry) * time.Second, nil
		}

		tokenURL, err := template.Render(a.spec.TokenURL, tctx)
		if err != nil {
			return "", 0, err
		}
		var form = url.Values{
			"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
			"assertion":  {signed},
		}
		return a.postForm(ctx, tokenURL, form)
	}
}

func (a *Authenticator) doAndRead(req *http.Request) ([]byte, int, error) {
	var resp, err = a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sending token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := readAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading token response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
