// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/oauth"
	"github.com/idforge/idforge/pkg/tokens"
)

// OAuthRoutes defines the protocol endpoints: token, introspect, revoke,
// and the authorize/approve/deny code flow.
type OAuthRoutes struct {
	svc *oauth.Service
}

// OAuthRouter creates the router for the OAuth protocol endpoints.
func OAuthRouter(svc *oauth.Service) http.Handler {
	routes := OAuthRoutes{svc: svc}

	r := chi.NewRouter()
	r.Post("/token", routes.token)
	r.Post("/introspect", routes.introspect)
	r.Post("/revoke", routes.revoke)
	r.Get("/authorize", routes.authorize)
	r.Post("/authorize/approve", routes.approve)
	r.Post("/authorize/deny", routes.deny)
	return r
}

// clientCredentials extracts client credentials from HTTP Basic auth or,
// failing that, from the form body.
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// token handles POST /oauth2/token for all four grants.
func (o *OAuthRoutes) token(w http.ResponseWriter, r *http.Request) {
	// RFC 6749 §5.1: token responses must not be cached.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	req := oauth.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
	}

	resp, err := o.svc.Token(r.Context(), req)
	if err != nil {
		writeOAuthError(w, oauth.AsError(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// introspect handles POST /oauth2/introspect (RFC 7662).
func (o *OAuthRoutes) introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	resp, err := o.svc.Introspect(r.Context(), clientID, clientSecret, r.PostFormValue("token"))
	if err != nil {
		writeOAuthError(w, oauth.AsError(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// revoke handles POST /oauth2/revoke (RFC 7009). Success is 200 with an
// empty body.
func (o *OAuthRoutes) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	err := o.svc.Revoke(r.Context(), clientID, clientSecret,
		r.PostFormValue("token"), r.PostFormValue("token_type_hint"))
	if err != nil {
		writeOAuthError(w, oauth.AsError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

func authorizeRequestFromValues(get func(string) string) oauth.AuthorizeRequest {
	return oauth.AuthorizeRequest{
		ResponseType:        get("response_type"),
		ClientID:            get("client_id"),
		RedirectURI:         get("redirect_uri"),
		Scope:               get("scope"),
		State:               get("state"),
		CodeChallenge:       get("code_challenge"),
		CodeChallengeMethod: get("code_challenge_method"),
	}
}

// authorize handles GET /oauth2/authorize: it validates the request and
// returns the parameters the consent UI needs. The actual consent decision
// arrives via approve or deny.
func (o *OAuthRoutes) authorize(w http.ResponseWriter, r *http.Request) {
	req := authorizeRequestFromValues(r.URL.Query().Get)

	client, err := o.svc.ValidateAuthorize(r.Context(), req)
	if err != nil {
		writeOAuthError(w, oauth.AsError(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":   client.ID,
		"client_name": client.Name,
		"scope":       req.Scope,
		"state":       req.State,
	})
}

// approve handles POST /oauth2/authorize/approve: it mints the code and
// responds with a 302 to the registered redirect URI.
func (o *OAuthRoutes) approve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}

	req := authorizeRequestFromValues(r.PostFormValue)
	redirect, err := o.svc.Approve(r.Context(), req, r.PostFormValue("user_id"))
	if err != nil {
		writeOAuthError(w, oauth.AsError(err))
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// deny handles POST /oauth2/authorize/deny: a 302 back to the client with
// error=access_denied.
func (o *OAuthRoutes) deny(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest("malformed form body"))
		return
	}

	req := authorizeRequestFromValues(r.PostFormValue)
	redirect, err := o.svc.Deny(r.Context(), req)
	if err != nil {
		writeOAuthError(w, oauth.AsError(err))
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// JWKSRouter serves the published JWK set.
func JWKSRouter(signer *tokens.Signer) http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		doc, err := signer.JWKS()
		if err != nil {
			logger.Errorw("failed to build JWK set", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
	return r
}

// writeOAuthError writes the RFC 6749 error body with the error's HTTP
// status. invalid_client carries a WWW-Authenticate challenge per §5.2.
func writeOAuthError(w http.ResponseWriter, oerr *oauth.Error) {
	if oerr.Code == oauth.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="idforge"`)
	}
	writeJSON(w, oerr.Status, oerr)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response body", "error", err)
	}
}
