// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idforge/idforge/pkg/tokens"
)

func TestKeygen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")

	cmd := newKeygenCmd()
	cmd.SetArgs([]string{"--private-key", privatePath, "--public-key", publicPath})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	privateKey, err := tokens.LoadRSAPrivateKey(privatePath)
	require.NoError(t, err)
	publicKey, err := tokens.LoadRSAPublicKey(publicPath)
	require.NoError(t, err)

	// The two halves belong together.
	assert.True(t, privateKey.PublicKey.Equal(publicKey))

	kid, err := tokens.DeriveKeyID(publicKey)
	require.NoError(t, err)
	assert.Contains(t, out.String(), kid)
}
