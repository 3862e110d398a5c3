// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/storage"
	"github.com/idforge/idforge/pkg/tokens"
)

// passwordGrant authenticates the client, then the user, and issues an
// access + refresh token pair with sub=user_id.
func (s *Service) passwordGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantPassword)
	if err != nil {
		return nil, err
	}

	user, err := s.authenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	scope, err := grantScope(req.Scope, client.Scopes)
	if err != nil {
		return nil, err
	}

	resp, err := s.issueTokenPair(user.ID, client.ID, scope)
	if err != nil {
		logger.Errorw("password grant token issuance failed", "error", err)
		return nil, ErrServerError()
	}
	return resp, nil
}

// authorizationCodeGrant consumes the code atomically, checks its bindings
// (client, redirect URI, PKCE), and issues tokens for the code's user.
func (s *Service) authorizationCodeGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantAuthorizationCode)
	if err != nil {
		return nil, err
	}

	if req.Code == "" || req.RedirectURI == "" || req.CodeVerifier == "" {
		return nil, ErrInvalidRequest("code, redirect_uri, and code_verifier are required")
	}

	// Consume first: unknown, expired, and already-used codes must all look
	// the same to the caller, and consumption must win the race before any
	// binding check can fail.
	record, err := s.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCodeConsumed) {
			return nil, ErrInvalidGrant("authorization code is invalid, expired, or already used")
		}
		logger.Errorw("failed to consume authorization code", "error", err)
		return nil, ErrServerError()
	}

	if record.ClientID != client.ID {
		return nil, ErrInvalidGrant("authorization code was issued to another client")
	}
	// Byte-for-byte match with the URI presented at authorize time.
	if record.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}
	if err := crypto.VerifyPKCE(req.CodeVerifier, record.CodeChallenge, record.CodeChallengeMethod); err != nil {
		return nil, ErrInvalidGrant("PKCE verification failed")
	}

	resp, err := s.issueTokenPair(record.UserID, client.ID, record.Scope)
	if err != nil {
		logger.Errorw("authorization code grant token issuance failed", "error", err)
		return nil, ErrServerError()
	}
	return resp, nil
}

// refreshTokenGrant verifies and rotates a refresh token. The prior jti is
// recorded as revoked (and its cache entry purged) before the new pair is
// returned, so rotation is observed atomically: new tokens imply the old
// refresh token is dead.
func (s *Service) refreshTokenGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantRefreshToken)
	if err != nil {
		return nil, err
	}

	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	claims, err := s.signer.Verify(req.RefreshToken, client.ID)
	if err != nil {
		return nil, ErrInvalidGrant("refresh token is invalid")
	}
	if claims.TokenType != tokens.TypeRefresh {
		return nil, ErrInvalidGrant("refresh token is invalid")
	}

	revoked, err := s.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		logger.Errorw("failed to check token revocation", "error", err)
		return nil, ErrServerError()
	}
	if revoked {
		return nil, ErrInvalidGrant("refresh token is invalid")
	}

	// A narrower scope may be requested; never a wider one.
	scope := claims.Scope
	if req.Scope != "" {
		if !scopeSubset(parseScope(req.Scope), parseScope(claims.Scope)) {
			return nil, ErrInvalidScope("requested scope exceeds the refresh token's scope")
		}
		scope = req.Scope
	}

	resp, err := s.issueTokenPair(claims.Subject, client.ID, scope)
	if err != nil {
		logger.Errorw("refresh grant token issuance failed", "error", err)
		return nil, ErrServerError()
	}

	// Rotate: the old jti must be revoked before the new pair leaves the
	// handler. If the recording fails the new tokens are discarded.
	if err := s.store.RevokeToken(ctx, claims.ID, claims.ExpiresAt); err != nil {
		logger.Errorw("failed to revoke rotated refresh token", "error", err, "jti", claims.ID)
		return nil, ErrServerError()
	}
	s.purgeCacheEntry(ctx, req.RefreshToken)

	return resp, nil
}

// clientCredentialsGrant issues an access token with sub=client_id. No
// refresh token.
func (s *Service) clientCredentialsGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, storage.GrantClientCredentials)
	if err != nil {
		return nil, err
	}

	scope, err := grantScope(req.Scope, client.Scopes)
	if err != nil {
		return nil, err
	}

	access, _, err := s.signer.Issue(tokens.TypeAccess, client.ID, client.ID, scope, s.accessTTL)
	if err != nil {
		logger.Errorw("client credentials token issuance failed", "error", fmt.Errorf("issuing access token: %w", err))
		return nil, ErrServerError()
	}

	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		Scope:       scope,
	}, nil
}
