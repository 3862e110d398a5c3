// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/idforge/idforge/pkg/cache"
	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/oauth"
	"github.com/idforge/idforge/pkg/storage"
	"github.com/idforge/idforge/pkg/tokens"
)

const (
	testClientSecret = "s1-secret"
	testUserPassword = "p@ss"
	testRedirectURI  = "https://app.example.com/callback"

	// RFC 7636 Appendix B vector.
	pkceVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	pkceChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

type fixture struct {
	handler http.Handler
	client  *storage.Client
	user    *storage.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})

	signer, err := tokens.NewSigner(tokens.SignerConfig{
		PrivateKey: testKey,
		PublicKey:  &testKey.PublicKey,
		Issuer:     "https://idforge.test",
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	hasher := crypto.NewPasswordHasher(bcrypt.MinCost)
	registry := prometheus.NewRegistry()

	svc, err := oauth.NewService(oauth.ServiceConfig{
		Store:                 store,
		Cache:                 cache.NewMemoryCache(),
		Signer:                signer,
		Hasher:                hasher,
		AccessTokenTTL:        30 * time.Minute,
		RefreshTokenTTL:       7 * 24 * time.Hour,
		AuthCodeTTL:           10 * time.Minute,
		IntrospectionCacheTTL: 5 * time.Minute,
		Metrics:               oauth.NewMetrics(registry),
	})
	require.NoError(t, err)

	secretHash, err := hasher.Hash(testClientSecret)
	require.NoError(t, err)
	now := time.Now()
	client := &storage.Client{
		ID:           uuid.NewString(),
		Name:         "first-party app",
		SecretHash:   secretHash,
		RedirectURIs: []string{testRedirectURI},
		GrantTypes: []string{
			storage.GrantPassword,
			storage.GrantAuthorizationCode,
			storage.GrantRefreshToken,
			storage.GrantClientCredentials,
		},
		Scopes:    []string{"read", "write"},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateClient(ctx, client))

	passwordHash, err := hasher.Hash(testUserPassword)
	require.NoError(t, err)
	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateUser(ctx, user))

	return &fixture{
		handler: Handler(Deps{Service: svc, Signer: signer, Store: store, Hasher: hasher, Registry: registry}),
		client:  client,
		user:    user,
	}
}

// postForm sends an x-www-form-urlencoded POST through the handler.
func (f *fixture) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doDelete(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func (f *fixture) passwordForm() url.Values {
	return url.Values{
		"grant_type":    {storage.GrantPassword},
		"client_id":     {f.client.ID},
		"client_secret": {testClientSecret},
		"username":      {"alice"},
		"password":      {testUserPassword},
		"scope":         {"read"},
	}
}

func TestTokenEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	t.Run("password grant over form credentials", func(t *testing.T) {
		rec := f.postForm(t, "/oauth2/token", f.passwordForm())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))

		var resp oauth.TokenResponse
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.EqualValues(t, 1800, resp.ExpiresIn)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, "read", resp.Scope)
	})

	t.Run("password grant over basic auth", func(t *testing.T) {
		form := f.passwordForm()
		form.Del("client_id")
		form.Del("client_secret")

		req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(f.client.ID, testClientSecret)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("invalid client is 401 with challenge", func(t *testing.T) {
		form := f.passwordForm()
		form.Set("client_secret", "wrong")

		rec := f.postForm(t, "/oauth2/token", form)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

		var body map[string]string
		decodeJSON(t, rec, &body)
		assert.Equal(t, oauth.CodeInvalidClient, body["error"])
	})

	t.Run("unsupported grant type is 400", func(t *testing.T) {
		form := f.passwordForm()
		form.Set("grant_type", "device_code")

		rec := f.postForm(t, "/oauth2/token", form)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		decodeJSON(t, rec, &body)
		assert.Equal(t, oauth.CodeUnsupportedGrantType, body["error"])
	})
}

func TestAuthorizationCodeFlowOverHTTP(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	authParams := url.Values{
		"response_type":         {"code"},
		"client_id":             {f.client.ID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"read"},
		"state":                 {"xyzzy"},
		"code_challenge":        {pkceChallenge},
		"code_challenge_method": {"S256"},
	}

	rec := f.get(t, "/oauth2/authorize?"+authParams.Encode())
	require.Equal(t, http.StatusOK, rec.Code)

	var consent map[string]any
	decodeJSON(t, rec, &consent)
	assert.Equal(t, "first-party app", consent["client_name"])

	approveForm := url.Values{}
	for k, v := range authParams {
		approveForm[k] = v
	}
	approveForm.Set("user_id", f.user.ID)

	rec = f.postForm(t, "/oauth2/authorize/approve", approveForm)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyzzy", loc.Query().Get("state"))

	rec = f.postForm(t, "/oauth2/token", url.Values{
		"grant_type":    {storage.GrantAuthorizationCode},
		"client_id":     {f.client.ID},
		"client_secret": {testClientSecret},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {pkceVerifier},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp oauth.TokenResponse
	decodeJSON(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestDenyOverHTTP(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.postForm(t, "/oauth2/authorize/deny", url.Values{
		"response_type":         {"code"},
		"client_id":             {f.client.ID},
		"redirect_uri":          {testRedirectURI},
		"state":                 {"xyzzy"},
		"code_challenge":        {pkceChallenge},
		"code_challenge_method": {"S256"},
	})
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "xyzzy", loc.Query().Get("state"))
}

func TestIntrospectAndRevokeEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.postForm(t, "/oauth2/token", f.passwordForm())
	require.Equal(t, http.StatusOK, rec.Code)
	var issued oauth.TokenResponse
	decodeJSON(t, rec, &issued)

	introspectForm := url.Values{
		"client_id":     {f.client.ID},
		"client_secret": {testClientSecret},
		"token":         {issued.AccessToken},
	}

	rec = f.postForm(t, "/oauth2/introspect", introspectForm)
	require.Equal(t, http.StatusOK, rec.Code)
	var intro oauth.IntrospectionResponse
	decodeJSON(t, rec, &intro)
	assert.True(t, intro.Active)
	assert.Equal(t, f.user.ID, intro.Subject)
	assert.Equal(t, "alice", intro.Username)

	// Revoke: 200 with empty body.
	rec = f.postForm(t, "/oauth2/revoke", url.Values{
		"client_id":     {f.client.ID},
		"client_secret": {testClientSecret},
		"token":         {issued.AccessToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = f.postForm(t, "/oauth2/introspect", introspectForm)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &intro)
	assert.False(t, intro.Active)

	// Unsupported hint is the one revocation error surfaced to callers.
	rec = f.postForm(t, "/oauth2/revoke", url.Values{
		"client_id":       {f.client.ID},
		"client_secret":   {testClientSecret},
		"token":           {issued.AccessToken},
		"token_type_hint": {"saml_assertion"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, oauth.CodeUnsupportedTokenType, body["error"])
}

func TestJWKSEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.get(t, "/.well-known/jwks.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	decodeJSON(t, rec, &doc)
	require.Len(t, doc.Keys, 1)
	key := doc.Keys[0]
	assert.Equal(t, "RSA", key["kty"])
	assert.Equal(t, "sig", key["use"])
	assert.Equal(t, "RS256", key["alg"])
	assert.NotEmpty(t, key["kid"])
	assert.NotEmpty(t, key["n"])
	assert.NotEmpty(t, key["e"])
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// Generate at least one HTTP observation and one grant observation.
	_ = f.get(t, "/health")
	rec := f.postForm(t, "/oauth2/token", f.passwordForm())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "idforge_http_requests_total")
	assert.Contains(t, rec.Body.String(), "idforge_token_requests_total")
	assert.Contains(t, rec.Body.String(), `grant_type="password",result="success"`)
}
