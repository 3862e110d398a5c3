// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/idforge/idforge/pkg/storage"
)

// HealthcheckRouter reports liveness. The store probe is a cheap read; a
// failing store turns the health endpoint into a 503 so load balancers
// stop routing here.
func HealthcheckRouter(store storage.Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if _, err := store.ListClients(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
