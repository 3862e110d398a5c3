// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"slices"
	"strings"
)

// parseScope splits a space-separated scope string into its values.
func parseScope(scope string) []string {
	return strings.Fields(scope)
}

// scopeSubset reports whether every requested scope value is allowed.
func scopeSubset(requested, allowed []string) bool {
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			return false
		}
	}
	return true
}

// grantScope resolves the scope to grant: the requested scope if it is a
// subset of allowed, the full allowed set if no scope was requested, or
// invalid_scope.
func grantScope(requested string, allowed []string) (string, error) {
	values := parseScope(requested)
	if len(values) == 0 {
		return strings.Join(allowed, " "), nil
	}
	if !scopeSubset(values, allowed) {
		return "", ErrInvalidScope("requested scope exceeds the allowed scope")
	}
	return strings.Join(values, " "), nil
}
