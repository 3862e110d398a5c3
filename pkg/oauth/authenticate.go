// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"

	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/storage"
)

// authenticateClient resolves the client and verifies its secret. When
// grantType is non-empty the client must also be allowed to use it.
//
// Unknown, inactive, and wrong-secret clients all collapse to
// invalid_client; a dummy KDF comparison keeps the unknown-client path from
// returning measurably faster.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret, grantType string) (*storage.Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrInvalidClient()
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.DummyVerify()
			return nil, ErrInvalidClient()
		}
		logger.Errorw("failed to load client", "error", err)
		return nil, ErrServerError()
	}

	if !s.hasher.Verify(clientSecret, client.SecretHash) {
		return nil, ErrInvalidClient()
	}
	if !client.Active {
		return nil, ErrInvalidClient()
	}

	if grantType != "" && !client.AllowsGrantType(grantType) {
		return nil, ErrUnauthorizedClient(grantType)
	}

	return client, nil
}

// authenticateUser resolves the user by exact username and verifies the
// password. Every failure is the same invalid_grant: the response must not
// distinguish "unknown user" from "bad password", and the unknown-user path
// burns a dummy KDF comparison so timing does not distinguish them either.
func (s *Service) authenticateUser(ctx context.Context, username, password string) (*storage.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.DummyVerify()
			return nil, ErrInvalidGrant("invalid username or password")
		}
		logger.Errorw("failed to load user", "error", err)
		return nil, ErrServerError()
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidGrant("invalid username or password")
	}
	if !user.Active {
		return nil, ErrInvalidGrant("invalid username or password")
	}

	return user, nil
}
