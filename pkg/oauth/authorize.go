// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/storage"
)

// AuthorizeRequest is a parsed GET /oauth2/authorize query.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorize checks an authorize request before any consent UI is
// shown. Client and redirect URI problems are direct errors, never
// redirects: a redirect target is only trusted once it is known to be
// registered for the client.
func (s *Service) ValidateAuthorize(ctx context.Context, req AuthorizeRequest) (*storage.Client, error) {
	if req.ResponseType != "code" {
		return nil, ErrInvalidRequest("response_type must be \"code\"")
	}
	if req.ClientID == "" || req.RedirectURI == "" {
		return nil, ErrInvalidRequest("client_id and redirect_uri are required")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidRequest("unknown client")
		}
		logger.Errorw("failed to load client", "error", err)
		return nil, ErrServerError()
	}
	if !client.Active {
		return nil, ErrInvalidRequest("unknown client")
	}
	if !client.AllowsGrantType(storage.GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient(storage.GrantAuthorizationCode)
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	if req.CodeChallenge == "" {
		return nil, ErrInvalidRequest("code_challenge is required")
	}
	if !crypto.ValidPKCEMethod(challengeMethod(req)) {
		return nil, ErrInvalidRequest("unsupported code_challenge_method")
	}

	if req.Scope != "" && !scopeSubset(parseScope(req.Scope), client.Scopes) {
		return nil, ErrInvalidScope("requested scope exceeds the client's allowed scope")
	}

	return client, nil
}

// Approve records the user's consent: it mints a single-use authorization
// code bound to the client, user, redirect URI, scope, and PKCE challenge,
// and returns the redirect URL carrying code and state.
//
// The user ID arrives from the approve request rather than a session; the
// surrounding deployment is expected to authenticate the end user before
// this call.
func (s *Service) Approve(ctx context.Context, req AuthorizeRequest, userID string) (string, error) {
	client, err := s.ValidateAuthorize(ctx, req)
	if err != nil {
		return "", err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidRequest("unknown user")
		}
		logger.Errorw("failed to load user", "error", err)
		return "", ErrServerError()
	}
	if !user.Active {
		return "", ErrInvalidRequest("unknown user")
	}

	scope, err := grantScope(req.Scope, client.Scopes)
	if err != nil {
		return "", err
	}

	code, err := crypto.GenerateAuthorizationCode()
	if err != nil {
		logger.Errorw("failed to generate authorization code", "error", err)
		return "", ErrServerError()
	}

	now := time.Now()
	record := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: challengeMethod(req),
		ExpiresAt:           now.Add(s.authCodeTTL),
		CreatedAt:           now,
	}
	if err := s.store.CreateAuthorizationCode(ctx, record); err != nil {
		logger.Errorw("failed to store authorization code", "error", err)
		return "", ErrServerError()
	}

	return redirectWith(req.RedirectURI, req.State, map[string]string{"code": code})
}

// Deny records the user's refusal and returns the redirect URL carrying
// error=access_denied and the echoed state.
func (s *Service) Deny(ctx context.Context, req AuthorizeRequest) (string, error) {
	if _, err := s.ValidateAuthorize(ctx, req); err != nil {
		return "", err
	}
	return redirectWith(req.RedirectURI, req.State, map[string]string{"error": CodeAccessDenied})
}

// challengeMethod resolves the effective PKCE method; RFC 7636 defaults an
// absent code_challenge_method to "plain".
func challengeMethod(req AuthorizeRequest) string {
	if req.CodeChallengeMethod == "" {
		return crypto.PKCEMethodPlain
	}
	return req.CodeChallengeMethod
}

// redirectWith appends params (and state, echoed verbatim) to the redirect
// URI's query string.
func redirectWith(redirectURI, state string, params map[string]string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", ErrInvalidRequest("redirect_uri is not a valid URL")
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
