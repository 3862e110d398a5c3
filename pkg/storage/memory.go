// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/idforge/idforge/pkg/logger"
)

// DefaultCleanupInterval is how often the background sweep of expired
// authorization codes and revoked-token records runs.
const DefaultCleanupInterval = 5 * time.Minute

// MemoryStore implements Store with in-memory maps. It is thread-safe and
// suitable for development and testing; production deployments use the
// SQLite-backed store.
type MemoryStore struct {
	mu sync.RWMutex

	// users maps user ID -> User; usernames and emails index into it.
	users     map[string]*User
	usernames map[string]string
	emails    map[string]string

	// clients maps client_id -> Client.
	clients map[string]*Client

	// authCodes maps code string -> AuthorizationCode. Consumption flips
	// ConsumedAt under the write lock, which makes it a CAS.
	authCodes map[string]*AuthorizationCode

	// revoked maps jti -> original token expiry. Entries past their
	// expiry are swept by the cleanup goroutine.
	revoked map[string]time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore and starts its background cleanup
// goroutine. Callers must Close it to stop the goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		users:           make(map[string]*User),
		usernames:       make(map[string]string),
		emails:          make(map[string]string),
		clients:         make(map[string]*Client),
		authCodes:       make(map[string]*AuthorizationCode),
		revoked:         make(map[string]time.Time),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()
	return s
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for code, record := range s.authCodes {
		if record.IsExpired(now) {
			delete(s.authCodes, code)
			removed++
		}
	}
	for jti, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, jti)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		logger.Debugw("cleaned up expired records", "count", removed)
	}
}

// -----------------------
// UserStore
// -----------------------

// CreateUser inserts a user, enforcing username and email uniqueness.
func (s *MemoryStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.usernames[user.Username]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.emails[user.Email]; ok {
		return ErrAlreadyExists
	}

	u := *user
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	s.emails[u.Email] = u.ID
	return nil
}

// GetUser returns the user by ID.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

// GetUserByUsername returns the user by exact username.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

// UpdateUser persists mutations to an existing user.
func (s *MemoryStore) UpdateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return ErrNotFound
	}

	// Keep the secondary indexes coherent if the keys changed.
	if existing.Username != user.Username {
		delete(s.usernames, existing.Username)
		s.usernames[user.Username] = user.ID
	}
	if existing.Email != user.Email {
		delete(s.emails, existing.Email)
		s.emails[user.Email] = user.ID
	}

	u := *user
	s.users[u.ID] = &u
	return nil
}

// ListUsers returns all users.
func (s *MemoryStore) ListUsers(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		u := *user
		users = append(users, &u)
	}
	return users, nil
}

// -----------------------
// ClientStore
// -----------------------

// CreateClient inserts a client.
func (s *MemoryStore) CreateClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		return ErrAlreadyExists
	}

	s.clients[client.ID] = cloneClient(client)
	return nil
}

// GetClient returns the client by ID.
func (s *MemoryStore) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneClient(client), nil
}

// UpdateClient persists mutations to an existing client.
func (s *MemoryStore) UpdateClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; !ok {
		return ErrNotFound
	}

	s.clients[client.ID] = cloneClient(client)
	return nil
}

// ListClients returns all clients.
func (s *MemoryStore) ListClients(_ context.Context) ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, cloneClient(client))
	}
	return clients, nil
}

func cloneClient(c *Client) *Client {
	clone := *c
	clone.RedirectURIs = slices.Clone(c.RedirectURIs)
	clone.GrantTypes = slices.Clone(c.GrantTypes)
	clone.Scopes = slices.Clone(c.Scopes)
	return &clone
}

// -----------------------
// AuthorizationCodeStore
// -----------------------

// CreateAuthorizationCode inserts a code record.
func (s *MemoryStore) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code.Code]; ok {
		return ErrAlreadyExists
	}

	record := *code
	s.authCodes[record.Code] = &record
	return nil
}

// GetAuthorizationCode returns the record if present and not expired.
func (s *MemoryStore) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.authCodes[code]
	if !ok || record.IsExpired(time.Now()) {
		return nil, ErrNotFound
	}
	r := *record
	return &r, nil
}

// ConsumeAuthorizationCode flips the consumed flag under the write lock,
// which serializes concurrent exchanges: exactly one caller sees the
// unconsumed record.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.authCodes[code]
	if !ok || record.IsExpired(time.Now()) {
		return nil, ErrNotFound
	}
	if record.ConsumedAt != nil {
		return nil, ErrCodeConsumed
	}

	now := time.Now()
	record.ConsumedAt = &now

	r := *record
	return &r, nil
}

// -----------------------
// RevokedTokenStore
// -----------------------

// RevokeToken records the jti until the token's natural expiry.
func (s *MemoryStore) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked[jti] = expiresAt
	return nil
}

// IsTokenRevoked reports whether the jti has been revoked.
func (s *MemoryStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.revoked[jti]
	return ok, nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
