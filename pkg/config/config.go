// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the idforge server configuration from a YAML file
// and IDFORGE_-prefixed environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values for optional settings.
const (
	DefaultListenAddress           = ":8080"
	DefaultAccessTokenTTLSeconds   = 1800
	DefaultRefreshTokenTTLSeconds  = 604800
	DefaultAuthCodeTTLSeconds      = 600
	DefaultIntrospectionTTLSeconds = 300
	DefaultBcryptCost              = 12
	DefaultClockSkewSeconds        = 0
	DefaultDatabasePath            = "idforge.db"
)

// Config holds the full server configuration. Immutable after Load.
type Config struct {
	// Issuer is the URL placed in the "iss" claim of every issued token.
	Issuer string `mapstructure:"issuer"`

	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string `mapstructure:"listen_address"`

	// DatabasePath is the SQLite database file. ":memory:" is accepted.
	DatabasePath string `mapstructure:"database_path"`

	// RedisAddress is the address of the Redis instance backing the
	// introspection cache. Empty means an in-process cache is used.
	RedisAddress string `mapstructure:"redis_address"`

	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"redis_password"`

	AccessTokenTTLSeconds   int `mapstructure:"access_token_ttl_seconds"`
	RefreshTokenTTLSeconds  int `mapstructure:"refresh_token_ttl_seconds"`
	AuthCodeTTLSeconds      int `mapstructure:"auth_code_ttl_seconds"`
	IntrospectionTTLSeconds int `mapstructure:"introspection_cache_ttl_seconds"`
	BcryptCost              int `mapstructure:"bcrypt_cost"`
	ClockSkewSeconds        int `mapstructure:"clock_skew_seconds"`

	// JWTPrivateKeyFile and JWTPublicKeyFile are PEM files for the RS256
	// signing keypair.
	JWTPrivateKeyFile string `mapstructure:"jwt_private_key_file"`
	JWTPublicKeyFile  string `mapstructure:"jwt_public_key_file"`

	// JWTKeyID is the stable "kid" placed in JWT headers and the JWK set.
	// Empty means the RFC 7638 thumbprint of the public key is used.
	JWTKeyID string `mapstructure:"jwt_kid"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// RefreshTokenTTL returns the refresh token lifetime as a duration.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}

// AuthCodeTTL returns the authorization code lifetime as a duration.
func (c *Config) AuthCodeTTL() time.Duration {
	return time.Duration(c.AuthCodeTTLSeconds) * time.Second
}

// IntrospectionTTL returns the introspection cache TTL cap as a duration.
func (c *Config) IntrospectionTTL() time.Duration {
	return time.Duration(c.IntrospectionTTLSeconds) * time.Second
}

// ClockSkew returns the tolerated clock skew as a duration.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

// setDefaults registers default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", DefaultListenAddress)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("access_token_ttl_seconds", DefaultAccessTokenTTLSeconds)
	v.SetDefault("refresh_token_ttl_seconds", DefaultRefreshTokenTTLSeconds)
	v.SetDefault("auth_code_ttl_seconds", DefaultAuthCodeTTLSeconds)
	v.SetDefault("introspection_cache_ttl_seconds", DefaultIntrospectionTTLSeconds)
	v.SetDefault("bcrypt_cost", DefaultBcryptCost)
	v.SetDefault("clock_skew_seconds", DefaultClockSkewSeconds)
}

// Load reads configuration from the given file (optional, "" to skip) and
// from IDFORGE_-prefixed environment variables.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IDFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required settings are present and sane.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.JWTPrivateKeyFile == "" || c.JWTPublicKeyFile == "" {
		return fmt.Errorf("jwt_private_key_file and jwt_public_key_file are required")
	}
	if c.AccessTokenTTLSeconds <= 0 {
		return fmt.Errorf("access_token_ttl_seconds must be positive")
	}
	if c.RefreshTokenTTLSeconds <= 0 {
		return fmt.Errorf("refresh_token_ttl_seconds must be positive")
	}
	if c.AuthCodeTTLSeconds <= 0 {
		return fmt.Errorf("auth_code_ttl_seconds must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("bcrypt_cost must be between 4 and 31")
	}
	if c.ClockSkewSeconds < 0 {
		return fmt.Errorf("clock_skew_seconds must not be negative")
	}
	return nil
}
