// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements storage.Store on SQLite with embedded goose
// migrations.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/idforge/idforge/pkg/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies pending
// migrations, and returns the store. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; serialize access through a
	// single connection so concurrent writers queue instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)

// Timestamps are stored as RFC 3339 text; expiry columns as unix seconds,
// which SQL can compare exactly.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp: %w", err)
	}
	return t, nil
}

// -----------------------
// UserStore
// -----------------------

const userColumns = `id, username, email, password_hash, active, created_at, updated_at`

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.Active, formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByUsername retrieves a user by exact username. The username
// column uses SQLite's default BINARY collation, so matching is
// case-sensitive.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

type scanner interface{ Scan(dest ...any) error }

func scanUser(sc scanner) (*storage.User, error) {
	var (
		u            storage.User
		createdAtStr string
		updatedAtStr string
	)
	err := sc.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.Active, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if u.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser persists mutations to an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *storage.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, password_hash = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		user.Username, user.Email, user.PasswordHash, user.Active,
		formatTime(user.UpdatedAt), user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return requireRowAffected(res)
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]*storage.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// -----------------------
// ClientStore
// -----------------------

const clientColumns = `id, name, secret_hash, redirect_uris, grant_types, scopes, active, created_at, updated_at`

// CreateClient inserts a client.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client) error {
	redirectURIs, grantTypes, scopes, err := encodeClientLists(client)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID, client.Name, client.SecretHash,
		redirectURIs, grantTypes, scopes,
		client.Active, formatTime(client.CreatedAt), formatTime(client.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
}

func scanClient(sc scanner) (*storage.Client, error) {
	var (
		c            storage.Client
		redirectURIs []byte
		grantTypes   []byte
		scopes       []byte
		createdAtStr string
		updatedAtStr string
	)
	err := sc.Scan(&c.ID, &c.Name, &c.SecretHash,
		&redirectURIs, &grantTypes, &scopes,
		&c.Active, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning client: %w", err)
	}

	if err := decodeClientLists(&c, redirectURIs, grantTypes, scopes); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateClient persists mutations to an existing client.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) error {
	redirectURIs, grantTypes, scopes, err := encodeClientLists(client)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET name = ?, secret_hash = ?, redirect_uris = ?, grant_types = ?,
		 scopes = ?, active = ?, updated_at = ? WHERE id = ?`,
		client.Name, client.SecretHash, redirectURIs, grantTypes, scopes,
		client.Active, formatTime(client.UpdatedAt), client.ID,
	)
	if err != nil {
		return fmt.Errorf("updating client: %w", err)
	}
	return requireRowAffected(res)
}

// ListClients returns all clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clients []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating client rows: %w", err)
	}
	return clients, nil
}

func encodeClientLists(client *storage.Client) (redirectURIs, grantTypes, scopes []byte, err error) {
	if redirectURIs, err = json.Marshal(client.RedirectURIs); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding redirect URIs: %w", err)
	}
	if grantTypes, err = json.Marshal(client.GrantTypes); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding grant types: %w", err)
	}
	if scopes, err = json.Marshal(client.Scopes); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding scopes: %w", err)
	}
	return redirectURIs, grantTypes, scopes, nil
}

func decodeClientLists(c *storage.Client, redirectURIs, grantTypes, scopes []byte) error {
	if err := json.Unmarshal(redirectURIs, &c.RedirectURIs); err != nil {
		return fmt.Errorf("decoding redirect URIs: %w", err)
	}
	if err := json.Unmarshal(grantTypes, &c.GrantTypes); err != nil {
		return fmt.Errorf("decoding grant types: %w", err)
	}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return fmt.Errorf("decoding scopes: %w", err)
	}
	return nil
}

// -----------------------
// AuthorizationCodeStore
// -----------------------

const codeColumns = `code, client_id, user_id, redirect_uri, scope, code_challenge,
	code_challenge_method, expires_at, consumed_at, created_at`

// CreateAuthorizationCode inserts a code record.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	var consumedAt any
	if code.ConsumedAt != nil {
		consumedAt = formatTime(*code.ConsumedAt)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authorization_codes (`+codeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod,
		code.ExpiresAt.Unix(), consumedAt, formatTime(code.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode returns the record if present and not expired.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	record, err := s.getCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record.IsExpired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (s *Store) getCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM authorization_codes WHERE code = ?`, code)

	var (
		c            storage.AuthorizationCode
		expiresAt    int64
		consumedAt   sql.NullString
		createdAtStr string
	)
	err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope,
		&c.CodeChallenge, &c.CodeChallengeMethod,
		&expiresAt, &consumedAt, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning authorization code: %w", err)
	}

	c.ExpiresAt = time.Unix(expiresAt, 0)
	if c.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		t, err := parseTime(consumedAt.String)
		if err != nil {
			return nil, err
		}
		c.ConsumedAt = &t
	}
	return &c, nil
}

// ConsumeAuthorizationCode performs the consume as a single conditional
// UPDATE; SQLite serializes writers, so at most one caller flips the row.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	now := time.Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE authorization_codes SET consumed_at = ?
		 WHERE code = ? AND consumed_at IS NULL AND expires_at > ?`,
		formatTime(now), code, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("consuming authorization code: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking consume result: %w", err)
	}

	if affected == 1 {
		return s.getCode(ctx, code)
	}

	// The CAS failed; look at the row to report why.
	record, err := s.getCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record.IsExpired(now) {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrCodeConsumed
}

// -----------------------
// RevokedTokenStore
// -----------------------

// RevokeToken records the jti; re-revoking is a no-op.
func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether the jti has been revoked.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM revoked_tokens WHERE jti = ?`, jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking revoked token: %w", err)
	}
	return true, nil
}

// PurgeExpired removes revoked-token records and authorization codes past
// their expiry. Invoked periodically by the server runner.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now().Unix()
	var total int64

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purging revoked tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at < ?`, now)
	if err != nil {
		return total, fmt.Errorf("purging authorization codes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// -----------------------
// helpers
// -----------------------

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func requireRowAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
