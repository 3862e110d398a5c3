// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the authorization-server core: the four token
// grants (password, authorization_code, refresh_token, client_credentials),
// RFC 7662 introspection with a read-through cache, RFC 7009 revocation,
// and the authorize/approve/deny code flow with PKCE.
package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/idforge/idforge/pkg/cache"
	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/storage"
	"github.com/idforge/idforge/pkg/tokens"
)

// Service orchestrates grant dispatch, introspection, and revocation. All
// collaborators arrive through the constructor; Service holds no mutable
// state of its own and is safe for concurrent use.
type Service struct {
	store  storage.Store
	cache  cache.Cache
	signer *tokens.Signer
	hasher *crypto.PasswordHasher

	accessTTL   time.Duration
	refreshTTL  time.Duration
	authCodeTTL time.Duration

	// cacheTTL caps how long an introspection result may be cached; the
	// effective TTL is the lesser of this and the token's remaining life.
	cacheTTL time.Duration

	metrics *Metrics
}

// ServiceConfig carries the collaborators and knobs for NewService.
type ServiceConfig struct {
	Store  storage.Store
	Cache  cache.Cache
	Signer *tokens.Signer
	Hasher *crypto.PasswordHasher

	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	AuthCodeTTL           time.Duration
	IntrospectionCacheTTL time.Duration

	// Metrics is optional; nil means counters are kept but never scraped.
	Metrics *Metrics
}

// NewService creates the token service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 || cfg.AuthCodeTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Service{
		store:       cfg.Store,
		cache:       cfg.Cache,
		signer:      cfg.Signer,
		hasher:      cfg.Hasher,
		accessTTL:   cfg.AccessTokenTTL,
		refreshTTL:  cfg.RefreshTokenTTL,
		authCodeTTL: cfg.AuthCodeTTL,
		cacheTTL:    cfg.IntrospectionCacheTTL,
		metrics:     metrics,
	}, nil
}

// TokenRequest is a grant-agnostic token request as parsed from the form
// body of POST /oauth2/token.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// Password grant.
	Username string
	Password string

	// Authorization code grant.
	Code         string
	RedirectURI  string
	CodeVerifier string

	// Refresh token grant.
	RefreshToken string

	// Requested scope, space-separated. Optional for every grant.
	Scope string
}

// TokenResponse is the success body of POST /oauth2/token.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// Token dispatches the request to its grant handler and counts the outcome.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	resp, err := s.dispatchGrant(ctx, req)
	s.metrics.recordGrant(req.GrantType, err)
	return resp, err
}

// dispatchGrant routes on grant_type. The switch is a closed enumeration;
// unknown values are unsupported_grant_type.
func (s *Service) dispatchGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case "":
		return nil, ErrInvalidRequest("grant_type is required")
	case storage.GrantPassword:
		return s.passwordGrant(ctx, req)
	case storage.GrantAuthorizationCode:
		return s.authorizationCodeGrant(ctx, req)
	case storage.GrantRefreshToken:
		return s.refreshTokenGrant(ctx, req)
	case storage.GrantClientCredentials:
		return s.clientCredentialsGrant(ctx, req)
	default:
		return nil, ErrUnsupportedGrantType(req.GrantType)
	}
}

// issueTokenPair signs an access and a refresh token for the subject and
// builds the response body.
func (s *Service) issueTokenPair(subject, clientID, scope string) (*TokenResponse, error) {
	access, _, err := s.signer.Issue(tokens.TypeAccess, subject, clientID, scope, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}

	refresh, _, err := s.signer.Issue(tokens.TypeRefresh, subject, clientID, scope, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// introspectionCacheKey derives the cache key for a token string. Hashing
// keeps raw bearer tokens out of the cache keyspace.
func introspectionCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "introspect:" + hex.EncodeToString(sum[:])
}
