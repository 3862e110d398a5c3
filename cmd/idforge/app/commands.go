// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the idforge command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/idforge/idforge/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "idforge",
	DisableAutoGenTag: true,
	Short:             "idforge is an OAuth 2.0 authorization server",
	Long: `idforge is a standalone OAuth 2.0 authorization server.

It issues, refreshes, introspects, and revokes RS256-signed JWT bearer
tokens across the password, authorization code (with PKCE), refresh token,
and client credentials grants, and publishes the matching JWK set.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the idforge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeygenCmd())

	return rootCmd
}
