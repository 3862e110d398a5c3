// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the idforge authorization server.
package main

import (
	"os"

	"github.com/idforge/idforge/cmd/idforge/app"
	"github.com/idforge/idforge/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
