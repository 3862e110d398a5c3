// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the HTTP surface of the authorization server:
// the OAuth protocol endpoints, the JWK set, the admin API, health, and
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/oauth"
	"github.com/idforge/idforge/pkg/storage"
	"github.com/idforge/idforge/pkg/tokens"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second

	// purgeInterval is how often expired codes and revoked-token records
	// are swept from stores that support purging.
	purgeInterval = 5 * time.Minute
)

// Deps carries the collaborators the HTTP layer routes into.
type Deps struct {
	Service *oauth.Service
	Signer  *tokens.Signer
	Store   storage.Store
	Hasher  *crypto.PasswordHasher

	// Registry is the Prometheus registry /metrics scrapes. Optional; when
	// nil a fresh registry is created. Pass the registry the token-service
	// metrics were registered with so both show up in one scrape.
	Registry *prometheus.Registry
}

// Handler builds the full route tree.
func Handler(deps Deps) http.Handler {
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := newMetrics(registry)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		m.instrument,
	)

	routers := map[string]http.Handler{
		"/oauth2":         OAuthRouter(deps.Service),
		"/.well-known":    JWKSRouter(deps.Signer),
		"/health":         HealthcheckRouter(deps.Store),
		"/api/v1/users":   UserRouter(deps.Store, deps.Hasher),
		"/api/v1/clients": ClientRouter(deps.Store, deps.Hasher),
	}
	for prefix, router := range routers {
		r.Mount(prefix, router)
	}
	r.Handle("/metrics", m.handler())

	return r
}

// expiredPurger is implemented by stores that sweep expired rows on demand
// rather than with their own background goroutine.
type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Serve runs the server on address until ctx is cancelled, then shuts down
// gracefully. The caller sets up signal handling.
func Serve(ctx context.Context, address string, deps Deps) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Handler(deps),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	if purger, ok := deps.Store.(expiredPurger); ok {
		go purgeLoop(ctx, purger)
	}

	logger.Infow("starting server", "address", address)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func purgeLoop(ctx context.Context, purger expiredPurger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				logger.Warnw("failed to purge expired records", "error", err)
				continue
			}
			if n > 0 {
				logger.Debugw("purged expired records", "count", n)
			}
		}
	}
}
