// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence contracts for the authorization
// server: users, OAuth clients, authorization codes, and revoked-token
// records. Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound is returned when the requested record does not exist.
	// Expired authorization codes are reported as not found.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned on unique-constraint conflicts
	// (duplicate code, username, email, or client ID).
	ErrAlreadyExists = errors.New("record already exists")

	// ErrCodeConsumed is returned by ConsumeAuthorizationCode when the
	// code was already exchanged.
	ErrCodeConsumed = errors.New("authorization code already consumed")
)

// Grant type names as they appear in token requests and client records.
const (
	GrantPassword          = "password"
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// User is an end-user account. The password hash is opaque KDF output and
// must never leave the server.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Client is a registered OAuth client. Every client is confidential: it
// holds a secret hash and must authenticate on every protocol call.
type Client struct {
	ID           string
	Name         string
	SecretHash   string
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllowsGrantType reports whether the client may use the grant.
func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// AllowsRedirectURI reports whether the redirect URI is registered for the
// client. Matching is byte-for-byte, trailing slash included.
func (c *Client) AllowsRedirectURI(redirectURI string) bool {
	return slices.Contains(c.RedirectURIs, redirectURI)
}

// AuthorizationCode is a single-use, time-bounded code record minted at
// approve time and exchanged (at most once) at the token endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
	CreatedAt           time.Time
}

// IsExpired reports whether the code has passed its expiry.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrAlreadyExists if the username
	// or email is taken (active or not).
	CreateUser(ctx context.Context, user *User) error

	// GetUser returns the user by ID, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByUsername returns the user by exact (case-sensitive)
	// username, or ErrNotFound.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UpdateUser persists mutations to an existing user.
	UpdateUser(ctx context.Context, user *User) error

	// ListUsers returns all users.
	ListUsers(ctx context.Context) ([]*User, error)
}

// ClientStore persists OAuth clients.
type ClientStore interface {
	// CreateClient inserts a client. Returns ErrAlreadyExists on a
	// duplicate ID.
	CreateClient(ctx context.Context, client *Client) error

	// GetClient returns the client by ID, or ErrNotFound.
	GetClient(ctx context.Context, id string) (*Client, error)

	// UpdateClient persists mutations to an existing client.
	UpdateClient(ctx context.Context, client *Client) error

	// ListClients returns all clients.
	ListClients(ctx context.Context) ([]*Client, error)
}

// AuthorizationCodeStore persists single-use authorization codes.
type AuthorizationCodeStore interface {
	// CreateAuthorizationCode inserts a code record. Returns
	// ErrAlreadyExists if the code string is already present.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns the record if present and not expired;
	// otherwise ErrNotFound.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically transitions the code from
	// unconsumed to consumed and returns the prior record. Concurrent
	// consumes of the same code serialize so that exactly one succeeds;
	// the rest observe ErrCodeConsumed. Expired or unknown codes return
	// ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RevokedTokenStore records jtis of revoked tokens until their natural
// expiry, after which entries may be purged.
type RevokedTokenStore interface {
	// RevokeToken records the jti with the token's original expiry.
	// Recording an already-revoked jti is not an error.
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error

	// IsTokenRevoked reports whether the jti has been revoked.
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Store combines all persistence contracts behind one handle.
type Store interface {
	UserStore
	ClientStore
	AuthorizationCodeStore
	RevokedTokenStore

	// Close releases underlying resources.
	Close() error
}
