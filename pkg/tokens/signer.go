// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokens implements RS256 JWT construction and verification for the
// authorization server, and publishes the matching JWK set.
package tokens

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the token_type claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Verification failure modes. Callers that map these onto protocol errors
// must take care never to leak which one occurred.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrWrongIssuer      = errors.New("wrong token issuer")
	ErrWrongAudience    = errors.New("wrong token audience")
)

// Claims is the claim set carried by every token this server issues.
type Claims struct {
	// Subject is the user ID for user-bound grants, or the client ID for
	// the client credentials grant.
	Subject string

	// Audience is the client the token was issued to.
	Audience string

	// ClientID duplicates the audience in the client_id claim for
	// introspection convenience (RFC 7662 response field).
	ClientID string

	// Scope is the space-separated granted scope.
	Scope string

	// TokenType is TypeAccess or TypeRefresh.
	TokenType string

	// ID is the jti claim, unique per issuance.
	ID string

	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer signs and verifies the server's JWTs. The private key is read-only
// after construction; Signer is safe for concurrent use.
type Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	keyID      string
	clockSkew  time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// SignerConfig configures a Signer.
type SignerConfig struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Issuer     string

	// KeyID is the "kid" placed in headers and the JWK set. Empty means
	// the RFC 7638 thumbprint of the public key is used.
	KeyID string

	// ClockSkew is the leeway tolerated when checking exp. Zero by default.
	ClockSkew time.Duration
}

// NewSigner creates a Signer. Verification-only use (no private key) is not
// supported; this server always holds both halves of its keypair.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if cfg.PrivateKey == nil || cfg.PublicKey == nil {
		return nil, fmt.Errorf("both private and public keys are required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	keyID := cfg.KeyID
	if keyID == "" {
		derived, err := DeriveKeyID(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		keyID = derived
	}

	return &Signer{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		issuer:     cfg.Issuer,
		keyID:      keyID,
		clockSkew:  cfg.ClockSkew,
		now:        time.Now,
	}, nil
}

// KeyID returns the kid placed in token headers and the JWK set.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Issuer returns the configured issuer URL.
func (s *Signer) Issuer() string {
	return s.issuer
}

// Issue signs a token of the given type for the subject and audience,
// valid for ttl from now. The jti is a fresh UUID per issuance.
func (s *Signer) Issue(tokenType, subject, audience, scope string, ttl time.Duration) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, fmt.Errorf("subject is required")
	}
	if audience == "" {
		return "", Claims{}, fmt.Errorf("audience is required")
	}
	if ttl <= 0 {
		return "", Claims{}, fmt.Errorf("ttl must be positive")
	}

	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		Subject:   subject,
		Audience:  audience,
		ClientID:  audience,
		Scope:     scope,
		TokenType: tokenType,
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":        claims.Issuer,
		"sub":        claims.Subject,
		"aud":        claims.Audience,
		"exp":        claims.ExpiresAt.Unix(),
		"iat":        claims.IssuedAt.Unix(),
		"jti":        claims.ID,
		"scope":      claims.Scope,
		"token_type": claims.TokenType,
		"client_id":  claims.ClientID,
	})
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, claims, nil
}

// Verify parses a compact JWT, checks the RS256 signature against the
// server's public key, and enforces exp (with configured skew), iss, and
// aud. Verification is pure; no I/O.
func (s *Signer) Verify(tokenString, audience string) (Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}

	if !claims.ExpiresAt.After(s.now().Add(-s.clockSkew)) {
		return Claims{}, ErrExpired
	}
	if claims.Issuer != s.issuer {
		return Claims{}, ErrWrongIssuer
	}
	if audience != "" && claims.Audience != audience {
		return Claims{}, ErrWrongAudience
	}

	return claims, nil
}

// VerifyIgnoringExpiry checks signature and issuer but not exp. Revocation
// accepts expired tokens so that their jti can still be recorded.
func (s *Signer) VerifyIgnoringExpiry(tokenString string) (Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}

	if claims.Issuer != s.issuer {
		return Claims{}, ErrWrongIssuer
	}

	return claims, nil
}

// parse checks structure and signature and extracts the claim set without
// validating time-based or audience claims.
func (s *Signer) parse(tokenString string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		// Claim checks happen in the callers so that failure modes stay
		// distinguishable internally.
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrInvalidSignature
		default:
			return Claims{}, ErrMalformed
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrMalformed
	}

	return claimsFromMap(mapClaims)
}

// claimsFromMap converts raw claims into the typed set. Missing or
// mistyped required claims render the token malformed.
func claimsFromMap(m jwt.MapClaims) (Claims, error) {
	sub, err := m.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrMalformed
	}

	aud, err := m.GetAudience()
	if err != nil || len(aud) != 1 {
		return Claims{}, ErrMalformed
	}

	iss, err := m.GetIssuer()
	if err != nil {
		return Claims{}, ErrMalformed
	}

	exp, err := m.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, ErrMalformed
	}

	iat, err := m.GetIssuedAt()
	if err != nil || iat == nil {
		return Claims{}, ErrMalformed
	}

	jti, _ := m["jti"].(string)
	if jti == "" {
		return Claims{}, ErrMalformed
	}

	scope, _ := m["scope"].(string)
	tokenType, _ := m["token_type"].(string)
	clientID, _ := m["client_id"].(string)

	return Claims{
		Subject:   sub,
		Audience:  aud[0],
		ClientID:  clientID,
		Scope:     scope,
		TokenType: tokenType,
		ID:        jti,
		Issuer:    iss,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}, nil
}
