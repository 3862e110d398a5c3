// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the cryptographic primitives used by the
// authorization server: PKCE challenge verification, password hashing, and
// random token material.
package crypto

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/oauth2"
)

// PKCE challenge methods per RFC 7636. Method strings are matched
// case-sensitively.
const (
	// PKCEMethodPlain is the "plain" method: challenge == verifier.
	PKCEMethodPlain = "plain"

	// PKCEMethodS256 is the "S256" method:
	// challenge == BASE64URL(SHA256(verifier)) without padding.
	PKCEMethodS256 = "S256"
)

// Verifier length bounds per RFC 7636 Section 4.1.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// PKCE verification errors.
var (
	ErrInvalidVerifier   = errors.New("code_verifier must be 43-128 characters from the unreserved set")
	ErrUnknownMethod     = errors.New("unknown code_challenge_method")
	ErrChallengeMismatch = errors.New("code_verifier does not match code_challenge")
)

// GeneratePKCEVerifier generates a cryptographically random code_verifier
// per RFC 7636 Section 4.1. The verifier is 43 characters (32 bytes
// base64url encoded without padding).
//
// This delegates to oauth2.GenerateVerifier() from golang.org/x/oauth2,
// which panics on crypto/rand read failure.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes the S256 code_challenge from a code_verifier
// per RFC 7636 Section 4.2: BASE64URL(SHA256(code_verifier)).
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE checks a code_verifier against a stored challenge and method.
// Comparisons are constant-time. Unknown methods are rejected.
func VerifyPKCE(verifier, challenge, method string) error {
	if !validVerifier(verifier) {
		return ErrInvalidVerifier
	}

	switch method {
	case PKCEMethodPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return ErrChallengeMismatch
		}
		return nil
	case PKCEMethodS256:
		computed := ComputePKCEChallenge(verifier)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return ErrChallengeMismatch
		}
		return nil
	default:
		return ErrUnknownMethod
	}
}

// ValidPKCEMethod reports whether the method string is a supported
// code_challenge_method.
func ValidPKCEMethod(method string) bool {
	return method == PKCEMethodPlain || method == PKCEMethodS256
}

// validVerifier checks the RFC 7636 length and character constraints:
// 43-128 characters of ALPHA / DIGIT / "-" / "." / "_" / "~".
func validVerifier(verifier string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	for _, c := range []byte(verifier) {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}
