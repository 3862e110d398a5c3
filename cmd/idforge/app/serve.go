// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/idforge/idforge/pkg/cache"
	"github.com/idforge/idforge/pkg/config"
	"github.com/idforge/idforge/pkg/crypto"
	"github.com/idforge/idforge/pkg/logger"
	"github.com/idforge/idforge/pkg/oauth"
	"github.com/idforge/idforge/pkg/server"
	"github.com/idforge/idforge/pkg/storage/sqlite"
	"github.com/idforge/idforge/pkg/tokens"
)

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	return cmd
}

func runServe(ctx context.Context, configFile string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	privateKey, err := tokens.LoadRSAPrivateKey(cfg.JWTPrivateKeyFile)
	if err != nil {
		return err
	}
	publicKey, err := tokens.LoadRSAPublicKey(cfg.JWTPublicKeyFile)
	if err != nil {
		return err
	}

	signer, err := tokens.NewSigner(tokens.SignerConfig{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Issuer:     cfg.Issuer,
		KeyID:      cfg.JWTKeyID,
		ClockSkew:  cfg.ClockSkew(),
	})
	if err != nil {
		return fmt.Errorf("failed to create token signer: %w", err)
	}

	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("failed to close store", "error", err)
		}
	}()

	tokenCache, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := tokenCache.Close(); err != nil {
			logger.Warnw("failed to close cache", "error", err)
		}
	}()

	hasher := crypto.NewPasswordHasher(cfg.BcryptCost)

	// One registry for both the HTTP-level and token-service metrics.
	registry := prometheus.NewRegistry()

	svc, err := oauth.NewService(oauth.ServiceConfig{
		Store:                 store,
		Cache:                 tokenCache,
		Signer:                signer,
		Hasher:                hasher,
		AccessTokenTTL:        cfg.AccessTokenTTL(),
		RefreshTokenTTL:       cfg.RefreshTokenTTL(),
		AuthCodeTTL:           cfg.AuthCodeTTL(),
		IntrospectionCacheTTL: cfg.IntrospectionTTL(),
		Metrics:               oauth.NewMetrics(registry),
	})
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	logger.Infow("idforge starting", "issuer", cfg.Issuer, "kid", signer.KeyID())

	return server.Serve(ctx, cfg.ListenAddress, server.Deps{
		Service:  svc,
		Signer:   signer,
		Store:    store,
		Hasher:   hasher,
		Registry: registry,
	})
}

// buildCache picks Redis when an address is configured, otherwise the
// in-process cache. Deployments with more than one replica need Redis so
// that revocation invalidates introspection results everywhere.
func buildCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.RedisAddress == "" {
		logger.Info("no redis_address configured; using in-process introspection cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(ctx, cfg.RedisAddress, cfg.RedisPassword)
}
