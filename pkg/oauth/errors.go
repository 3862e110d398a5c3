// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes per RFC 6749 Section 5.2 and RFC 7009 Section 2.2.1.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidScope         = "invalid_scope"
	CodeAccessDenied         = "access_denied"
	CodeUnsupportedTokenType = "unsupported_token_type"
	CodeServerError          = "server_error"
)

// Error is a protocol-level OAuth error. It carries the wire error code,
// an optional human-readable description, and the HTTP status the endpoint
// should respond with.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`

	// Status is the HTTP status code; not serialized.
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// AsError extracts an *Error from err, wrapping anything unrecognized as a
// server_error so that internal causes never reach the wire.
func AsError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ErrServerError()
}

// ErrInvalidRequest reports a missing, duplicate, or malformed parameter.
func ErrInvalidRequest(description string) *Error {
	return &Error{Code: CodeInvalidRequest, Description: description, Status: http.StatusBadRequest}
}

// ErrInvalidClient reports failed client authentication. The description is
// deliberately fixed so it cannot leak whether the client exists.
func ErrInvalidClient() *Error {
	return &Error{
		Code:        CodeInvalidClient,
		Description: "client authentication failed",
		Status:      http.StatusUnauthorized,
	}
}

// ErrInvalidGrant reports bad user credentials, a bad code, a bad refresh
// token, or a PKCE failure.
func ErrInvalidGrant(description string) *Error {
	return &Error{Code: CodeInvalidGrant, Description: description, Status: http.StatusBadRequest}
}

// ErrUnauthorizedClient reports a client requesting a grant type it is not
// allowed to use.
func ErrUnauthorizedClient(grantType string) *Error {
	return &Error{
		Code:        CodeUnauthorizedClient,
		Description: fmt.Sprintf("client is not authorized for grant type %q", grantType),
		Status:      http.StatusBadRequest,
	}
}

// ErrUnsupportedGrantType reports an unknown grant_type value.
func ErrUnsupportedGrantType(grantType string) *Error {
	return &Error{
		Code:        CodeUnsupportedGrantType,
		Description: fmt.Sprintf("unsupported grant type %q", grantType),
		Status:      http.StatusBadRequest,
	}
}

// ErrInvalidScope reports a requested scope outside the allowed set.
func ErrInvalidScope(description string) *Error {
	return &Error{Code: CodeInvalidScope, Description: description, Status: http.StatusBadRequest}
}

// ErrAccessDenied reports a user denying the authorize request. Surfaced as
// a redirect parameter, not a direct HTTP error.
func ErrAccessDenied() *Error {
	return &Error{Code: CodeAccessDenied, Description: "the user denied the request", Status: http.StatusFound}
}

// ErrUnsupportedTokenType reports an unsupported token_type_hint at the
// revocation endpoint.
func ErrUnsupportedTokenType(hint string) *Error {
	return &Error{
		Code:        CodeUnsupportedTokenType,
		Description: fmt.Sprintf("unsupported token type hint %q", hint),
		Status:      http.StatusBadRequest,
	}
}

// ErrServerError reports an unexpected internal failure. The cause is logged
// out-of-band and never included in the description.
func ErrServerError() *Error {
	return &Error{Code: CodeServerError, Status: http.StatusInternalServerError}
}
