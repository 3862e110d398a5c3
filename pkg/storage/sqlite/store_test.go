// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idforge/idforge/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testUser(username string) *storage.User {
	now := time.Now().UTC().Truncate(time.Second)
	return &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "$2a$12$fakehash",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testClient() *storage.Client {
	now := time.Now().UTC().Truncate(time.Second)
	return &storage.Client{
		ID:           uuid.NewString(),
		Name:         "test app",
		SecretHash:   "$2a$12$fakehash",
		RedirectURIs: []string{"https://app.example.com/callback"},
		GrantTypes:   []string{storage.GrantAuthorizationCode, storage.GrantRefreshToken},
		Scopes:       []string{"read", "write"},
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testCode(ttl time.Duration) *storage.AuthorizationCode {
	now := time.Now().UTC()
	return &storage.AuthorizationCode{
		Code:                uuid.NewString(),
		ClientID:            "client-1",
		UserID:              "user-1",
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "read",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           now.Add(ttl),
		CreatedAt:           now,
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	// Schema is in place: a plain insert works.
	require.NoError(t, s.CreateUser(context.Background(), testUser("alice")))
}

func TestUserCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	user := testUser("alice")
	require.NoError(t, s.CreateUser(ctx, user))

	t.Run("duplicate username maps to ErrAlreadyExists", func(t *testing.T) {
		dup := testUser("alice")
		dup.Email = "other@example.com"
		assert.ErrorIs(t, s.CreateUser(ctx, dup), storage.ErrAlreadyExists)
	})

	t.Run("duplicate email maps to ErrAlreadyExists", func(t *testing.T) {
		dup := testUser("bob")
		dup.Email = user.Email
		assert.ErrorIs(t, s.CreateUser(ctx, dup), storage.ErrAlreadyExists)
	})

	t.Run("lookup by id and username", func(t *testing.T) {
		got, err := s.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Username, got.Username)
		assert.True(t, got.Active)

		got, err = s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		_, err = s.GetUserByUsername(ctx, "Alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		got, err := s.GetUser(ctx, user.ID)
		require.NoError(t, err)

		got.Active = false
		require.NoError(t, s.UpdateUser(ctx, got))

		reloaded, err := s.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, reloaded.Active)
	})

	t.Run("update missing user", func(t *testing.T) {
		missing := testUser("carol")
		assert.ErrorIs(t, s.UpdateUser(ctx, missing), storage.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})
}

func TestClientCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	client := testClient()
	require.NoError(t, s.CreateClient(ctx, client))
	assert.ErrorIs(t, s.CreateClient(ctx, client), storage.ErrAlreadyExists)

	got, err := s.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.GrantTypes, got.GrantTypes)
	assert.Equal(t, client.Scopes, got.Scopes)
	assert.True(t, got.AllowsGrantType(storage.GrantAuthorizationCode))
	assert.False(t, got.AllowsGrantType(storage.GrantPassword))

	got.Active = false
	got.Scopes = append(got.Scopes, "admin")
	require.NoError(t, s.UpdateClient(ctx, got))

	reloaded, err := s.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Active)
	assert.Contains(t, reloaded.Scopes, "admin")

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	t.Run("create and get", func(t *testing.T) {
		code := testCode(10 * time.Minute)
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))
		assert.ErrorIs(t, s.CreateAuthorizationCode(ctx, code), storage.ErrAlreadyExists)

		got, err := s.GetAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.CodeChallenge, got.CodeChallenge)
		assert.Nil(t, got.ConsumedAt)
	})

	t.Run("expired code is not found", func(t *testing.T) {
		code := testCode(-time.Minute)
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		_, err := s.GetAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = s.ConsumeAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("consume is single-use", func(t *testing.T) {
		code := testCode(10 * time.Minute)
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.UserID, got.UserID)
		require.NotNil(t, got.ConsumedAt)

		_, err = s.ConsumeAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrCodeConsumed)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := s.ConsumeAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestConsumeAuthorizationCodeConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	code := testCode(10 * time.Minute)
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, consumed int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, storage.ErrCodeConsumed):
			consumed++
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, consumed)
}

func TestRevokedTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	jti := uuid.NewString()

	revoked, err := s.IsTokenRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, jti, time.Now().Add(time.Hour)))

	revoked, err = s.IsTokenRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Idempotent.
	require.NoError(t, s.RevokeToken(ctx, jti, time.Now().Add(time.Hour)))
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RevokeToken(ctx, "old-jti", time.Now().Add(-time.Minute)))
	require.NoError(t, s.RevokeToken(ctx, "live-jti", time.Now().Add(time.Hour)))
	require.NoError(t, s.CreateAuthorizationCode(ctx, testCode(-time.Minute)))
	live := testCode(time.Hour)
	require.NoError(t, s.CreateAuthorizationCode(ctx, live))

	purged, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged)

	revoked, err := s.IsTokenRevoked(ctx, "live-jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = s.GetAuthorizationCode(ctx, live.Code)
	require.NoError(t, err)
}
