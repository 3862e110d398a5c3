// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/storage"
)

// UserRoutes defines the admin user CRUD endpoints.
type UserRoutes struct {
	store  storage.Store
	hasher *crypto.PasswordHasher
}

// UserRouter creates the router for the admin user API.
func UserRouter(store storage.Store, hasher *crypto.PasswordHasher) http.Handler {
	routes := UserRoutes{store: store, hasher: hasher}

	r := chi.NewRouter()
	r.Get("/", routes.listUsers)
	r.Post("/", routes.createUser)
	r.Get("/{id}", routes.getUser)
	r.Delete("/{id}", routes.deactivateUser)
	return r
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse never carries the password hash.
type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u *storage.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (u *UserRoutes) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := u.store.ListUsers(r.Context())
	if err != nil {
		logger.Errorw("failed to list users", "error", err)
		http.Error(w, "failed to list users", http.StatusInternalServerError)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, user := range users {
		resp = append(resp, toUserResponse(user))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (u *UserRoutes) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		http.Error(w, "username must be 3-64 characters", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	hash, err := u.hasher.Hash(req.Password)
	if err != nil {
		logger.Errorw("failed to hash password", "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := u.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			http.Error(w, "username or email already taken", http.StatusConflict)
			return
		}
		logger.Errorw("failed to create user", "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (u *UserRoutes) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := u.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		logger.Errorw("failed to load user", "error", err)
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// deactivateUser soft-deletes: the record stays, but every grant requiring
// the user is refused from now on.
func (u *UserRoutes) deactivateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := u.store.GetUser(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		logger.Errorw("failed to load user", "error", err)
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}

	user.Active = false
	user.UpdatedAt = time.Now()
	if err := u.store.UpdateUser(ctx, user); err != nil {
		logger.Errorw("failed to deactivate user", "error", err)
		http.Error(w, "failed to deactivate user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClientRoutes defines the admin client CRUD endpoints.
type ClientRoutes struct {
	store  storage.Store
	hasher *crypto.PasswordHasher
}

// ClientRouter creates the router for the admin client API.
func ClientRouter(store storage.Store, hasher *crypto.PasswordHasher) http.Handler {
	routes := ClientRoutes{store: store, hasher: hasher}

	r := chi.NewRouter()
	r.Get("/", routes.listClients)
	r.Post("/", routes.createClient)
	r.Get("/{id}", routes.getClient)
	r.Delete("/{id}", routes.deactivateClient)
	return r
}

type createClientRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scopes"`
}

type clientResponse struct {
	ID           string    `json:"client_id"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	GrantTypes   []string  `json:"grant_types"`
	Scopes       []string  `json:"scopes"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`

	// Secret is only present in the create response; it is never
	// recoverable afterwards.
	Secret string `json:"client_secret,omitempty"`
}

func toClientResponse(c *storage.Client) clientResponse {
	return clientResponse{
		ID:           c.ID,
		Name:         c.Name,
		RedirectURIs: c.RedirectURIs,
		GrantTypes:   c.GrantTypes,
		Scopes:       c.Scopes,
		Active:       c.Active,
		CreatedAt:    c.CreatedAt,
	}
}

var validGrantTypes = map[string]bool{
	storage.GrantPassword:          true,
	storage.GrantAuthorizationCode: true,
	storage.GrantRefreshToken:      true,
	storage.GrantClientCredentials: true,
}

func (c *ClientRoutes) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := c.store.ListClients(r.Context())
	if err != nil {
		logger.Errorw("failed to list clients", "error", err)
		http.Error(w, "failed to list clients", http.StatusInternalServerError)
		return
	}

	resp := make([]clientResponse, 0, len(clients))
	for _, client := range clients {
		resp = append(resp, toClientResponse(client))
	}
	writeJSON(w, http.StatusOK, resp)
}

// createClient registers a client and returns the generated plaintext
// secret exactly once; only its hash is stored.
func (c *ClientRoutes) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if len(req.GrantTypes) == 0 {
		http.Error(w, "at least one grant type is required", http.StatusBadRequest)
		return
	}
	for _, gt := range req.GrantTypes {
		if !validGrantTypes[gt] {
			http.Error(w, "unknown grant type: "+gt, http.StatusBadRequest)
			return
		}
	}

	secret, err := crypto.GenerateClientSecret()
	if err != nil {
		logger.Errorw("failed to generate client secret", "error", err)
		http.Error(w, "failed to create client", http.StatusInternalServerError)
		return
	}
	secretHash, err := c.hasher.Hash(secret)
	if err != nil {
		logger.Errorw("failed to hash client secret", "error", err)
		http.Error(w, "failed to create client", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	client := &storage.Client{
		ID:           uuid.NewString(),
		Name:         req.Name,
		SecretHash:   secretHash,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       req.Scopes,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.store.CreateClient(r.Context(), client); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			http.Error(w, "client already exists", http.StatusConflict)
			return
		}
		logger.Errorw("failed to create client", "error", err)
		http.Error(w, "failed to create client", http.StatusInternalServerError)
		return
	}

	resp := toClientResponse(client)
	resp.Secret = secret
	writeJSON(w, http.StatusCreated, resp)
}

func (c *ClientRoutes) getClient(w http.ResponseWriter, r *http.Request) {
	client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "client not found", http.StatusNotFound)
			return
		}
		logger.Errorw("failed to load client", "error", err)
		http.Error(w, "failed to load client", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toClientResponse(client))
}

func (c *ClientRoutes) deactivateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, err := c.store.GetClient(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "client not found", http.StatusNotFound)
			return
		}
		logger.Errorw("failed to load client", "error", err)
		http.Error(w, "failed to load client", http.StatusInternalServerError)
		return
	}

	client.Active = false
	client.UpdatedAt = time.Now()
	if err := c.store.UpdateClient(ctx, client); err != nil {
		logger.Errorw("failed to deactivate client", "error", err)
		http.Error(w, "failed to deactivate client", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
