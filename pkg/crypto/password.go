// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptInputLimit is bcrypt's 72-byte input limit. Longer inputs are
// truncated before hashing so that hash and verify agree.
const bcryptInputLimit = 72

// PasswordHasher hashes and verifies credentials with bcrypt.
// The zero cost means bcrypt.DefaultCost; the server configures 12.
type PasswordHasher struct {
	cost int

	// dummyHash is a fixed hash at the configured cost, used by DummyVerify
	// to burn the same KDF time a real comparison would.
	dummyHash []byte
}

// NewPasswordHasher creates a hasher with the given bcrypt cost factor.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("idforge-timing-pad"), cost)
	if err != nil {
		// Only reachable with a cost outside bcrypt's fixed range, which
		// config validation rejects first.
		panic(err)
	}

	return &PasswordHasher{cost: cost, dummyHash: dummy}
}

// Hash derives a bcrypt hash from the plaintext. The salt is random per
// credential and embedded in the output.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether the plaintext matches the stored hash. The
// comparison inside bcrypt is constant-time; the boolean carries no
// information about why verification failed.
func (*PasswordHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate(plaintext)) == nil
}

// DummyVerify burns one bcrypt comparison against a fixed hash. Callers use
// it to equalize latency when the subject does not exist, so that "unknown
// user" and "bad password" are indistinguishable by timing.
func (h *PasswordHasher) DummyVerify() {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte("dummy-password"))
}

func truncate(plaintext string) []byte {
	b := []byte(plaintext)
	if len(b) > bcryptInputLimit {
		b = b[:bcryptInputLimit]
	}
	return b
}
