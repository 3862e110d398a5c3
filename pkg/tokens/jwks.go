// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKS returns the server's public key set as a marshaled JWK document
// suitable for serving at /.well-known/jwks.json:
// {"keys":[{"kty":"RSA","use":"sig","alg":"RS256","kid":...,"n":...,"e":...}]}.
func (s *Signer) JWKS() ([]byte, error) {
	key, err := jwk.Import(s.publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}

	if err := key.Set(jwk.KeyIDKey, s.keyID); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWK set: %w", err)
	}

	return data, nil
}
