// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/idforge/idforge/pkg/tokens"
)

const keygenBits = 2048

func newKeygenCmd() *cobra.Command {
	var (
		privateOut string
		publicOut  string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RS256 signing keypair",
		Long: `Generate an RSA keypair for JWT signing and write both halves as PEM
files. The derived RFC 7638 key ID is printed so it can be pinned in the
configuration as jwt_kid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeygen(cmd, privateOut, publicOut)
		},
	}

	cmd.Flags().StringVar(&privateOut, "private-key", "idforge-private.pem", "Output path for the private key")
	cmd.Flags().StringVar(&publicOut, "public-key", "idforge-public.pem", "Output path for the public key")
	return cmd
}

func runKeygen(cmd *cobra.Command, privateOut, publicOut string) error {
	key, err := rsa.GenerateKey(rand.Reader, keygenBits)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: mustMarshalPKCS8(key),
	})
	if err := os.WriteFile(privateOut, privatePEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})
	if err := os.WriteFile(publicOut, publicPEM, 0644); err != nil { //nolint:gosec // public half
		return fmt.Errorf("failed to write public key: %w", err)
	}

	kid, err := tokens.DeriveKeyID(&key.PublicKey)
	if err != nil {
		return err
	}

	cmd.Printf("wrote %s and %s\nkid: %s\n", privateOut, publicOut, kid)
	return nil
}

func mustMarshalPKCS8(key *rsa.PrivateKey) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		// Marshalling an in-memory RSA key cannot fail.
		panic(err)
	}
	return der
}
