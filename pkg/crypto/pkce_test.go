// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratePKCEVerifier(t *testing.T) {
	t.Parallel()

	verifier := GeneratePKCEVerifier()

	// RFC 7636: code_verifier must be 43-128 characters
	assert.GreaterOrEqual(t, len(verifier), 43)
	assert.LessOrEqual(t, len(verifier), 128)
	assert.True(t, validVerifier(verifier))
}

func TestComputePKCEChallenge_RFC7636Example(t *testing.T) {
	t.Parallel()

	// RFC 7636 Appendix B example
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	expected := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.Equal(t, expected, ComputePKCEChallenge(verifier))
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    string
		wantErr   error
	}{
		{"S256 match", verifier, challenge, PKCEMethodS256, nil},
		{"S256 mismatch", GeneratePKCEVerifier(), challenge, PKCEMethodS256, ErrChallengeMismatch},
		{"plain match", verifier, verifier, PKCEMethodPlain, nil},
		{"plain mismatch", verifier, challenge, PKCEMethodPlain, ErrChallengeMismatch},
		{"unknown method", verifier, challenge, "s256", ErrUnknownMethod},
		{"empty method", verifier, challenge, "", ErrUnknownMethod},
		{"verifier too short", strings.Repeat("a", 42), challenge, PKCEMethodS256, ErrInvalidVerifier},
		{"verifier too long", strings.Repeat("a", 129), challenge, PKCEMethodS256, ErrInvalidVerifier},
		{"verifier bad charset", strings.Repeat("a", 42) + "!", challenge, PKCEMethodS256, ErrInvalidVerifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyPKCE(tt.verifier, tt.challenge, tt.method)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidPKCEMethod(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidPKCEMethod("S256"))
	assert.True(t, ValidPKCEMethod("plain"))
	assert.False(t, ValidPKCEMethod("Plain"))
	assert.False(t, ValidPKCEMethod("S512"))
	assert.False(t, ValidPKCEMethod(""))
}
