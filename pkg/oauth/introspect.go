// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/idforge/idforge/pkg/cache"
	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/storage"
)

// IntrospectionResponse is the RFC 7662 response body. Inactive responses
// carry only {"active":false}; every other field is omitted.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

var inactive = &IntrospectionResponse{Active: false}

// Introspect implements RFC 7662. The caller must authenticate as a client;
// every token-side failure (bad signature, expired, revoked, malformed, or
// owned by another client) collapses to {"active":false} so the response
// never leaks why a token is inactive.
//
// The lookup is cache-first: a hit skips signature verification and the
// revocation check entirely. Cache failures degrade to direct verification.
func (s *Service) Introspect(ctx context.Context, clientID, clientSecret, token string) (*IntrospectionResponse, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret, "")
	if err != nil {
		return nil, err
	}

	if token == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	key := introspectionCacheKey(token)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var resp IntrospectionResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			s.metrics.cacheHits.Inc()
			return ownershipFiltered(&resp, client.ID), nil
		}
		logger.Warnw("discarding undecodable introspection cache entry", "error", err)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warnw("introspection cache read failed", "error", err)
	}
	s.metrics.cacheMisses.Inc()

	resp, remaining := s.introspectDirect(ctx, token)
	if !resp.Active {
		return inactive, nil
	}

	// Cache the verified result, capped by both the configured TTL and the
	// token's remaining life so a cached entry can never outlive the token.
	ttl := min(remaining, s.cacheTTL)
	if body, err := json.Marshal(resp); err == nil {
		if err := s.cache.Set(ctx, key, body, ttl); err != nil {
			logger.Warnw("introspection cache write failed", "error", err)
		}
	}

	return ownershipFiltered(resp, client.ID), nil
}

// introspectDirect verifies the token without consulting the cache and
// returns the full response plus the token's remaining lifetime.
func (s *Service) introspectDirect(ctx context.Context, token string) (*IntrospectionResponse, time.Duration) {
	claims, err := s.signer.Verify(token, "")
	if err != nil {
		return inactive, 0
	}

	revoked, err := s.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		logger.Errorw("failed to check token revocation", "error", err)
		return inactive, 0
	}
	if revoked {
		return inactive, 0
	}

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		Audience:  claims.Audience,
		ExpiresAt: claims.ExpiresAt.Unix(),
		IssuedAt:  claims.IssuedAt.Unix(),
		TokenType: claims.TokenType,
	}

	// User-bound tokens carry the username for RFC 7662 consumers. The
	// lookup fails harmlessly for client_credentials tokens, whose sub is
	// a client ID.
	if user, err := s.store.GetUser(ctx, claims.Subject); err == nil {
		resp.Username = user.Username
	} else if !errors.Is(err, storage.ErrNotFound) {
		logger.Warnw("failed to resolve token subject", "error", err)
	}

	return resp, time.Until(claims.ExpiresAt)
}

// ownershipFiltered hides tokens that belong to a different client: the
// caller sees {"active":false}, indistinguishable from any other failure.
func ownershipFiltered(resp *IntrospectionResponse, clientID string) *IntrospectionResponse {
	if !resp.Active || resp.Audience != clientID {
		return inactive
	}
	return resp
}
