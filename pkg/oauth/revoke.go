// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"

	"github.com/idforge/idforge/pkg/logger"
)

// Token type hints accepted at the revocation endpoint (RFC 7009 §2.1).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Revoke implements RFC 7009. Expired tokens are accepted (their jti is
// still recorded), and unknown, malformed, or foreign tokens succeed
// silently so the endpoint cannot be used to probe token validity. Only a
// malformed request itself (bad client auth, unsupported hint) is an error.
//
// The introspection cache entry is purged before returning, so a revoke
// followed immediately by an introspect can never observe a stale
// active:true.
func (s *Service) Revoke(ctx context.Context, clientID, clientSecret, token, tokenTypeHint string) error {
	if tokenTypeHint != "" && tokenTypeHint != HintAccessToken && tokenTypeHint != HintRefreshToken {
		return ErrUnsupportedTokenType(tokenTypeHint)
	}

	client, err := s.authenticateClient(ctx, clientID, clientSecret, "")
	if err != nil {
		return err
	}

	if token == "" {
		return ErrInvalidRequest("token is required")
	}

	claims, err := s.signer.VerifyIgnoringExpiry(token)
	if err != nil {
		// Not one of ours; silent success.
		return nil
	}
	if claims.Audience != client.ID {
		// Another client's token; silent success.
		return nil
	}

	if err := s.store.RevokeToken(ctx, claims.ID, claims.ExpiresAt); err != nil {
		logger.Errorw("failed to record token revocation", "error", err, "jti", claims.ID)
		return ErrServerError()
	}

	s.purgeCacheEntry(ctx, token)
	return nil
}

// purgeCacheEntry removes the introspection cache entry for a token. Cache
// unavailability is logged and tolerated: with the cache down there is no
// stale entry to serve.
func (s *Service) purgeCacheEntry(ctx context.Context, token string) {
	if err := s.cache.Delete(ctx, introspectionCacheKey(token)); err != nil {
		logger.Warnw("introspection cache purge failed", "error", err)
	}
}
