// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// authCodeBytes is the entropy of a minted authorization code. 32 bytes
// comfortably exceeds the 128-bit minimum.
const authCodeBytes = 32

// GenerateAuthorizationCode mints a URL-safe, high-entropy authorization
// code string (base64url without padding).
func GenerateAuthorizationCode() (string, error) {
	return GenerateRandomString(authCodeBytes)
}

// GenerateClientSecret mints a plaintext client secret. The caller is
// responsible for hashing it before storage.
func GenerateClientSecret() (string, error) {
	return GenerateRandomString(32)
}

// GenerateRandomString returns n bytes of crypto/rand entropy encoded as
// base64url without padding.
func GenerateRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
