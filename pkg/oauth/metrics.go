// SPDX-FileCopyrightText: Copyright 2026 IDForge Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/idforge/idforge/pkg/storage"
)

// Metrics holds the token-service Prometheus instruments. Counters on a nil
// registerer still count; they just never appear in a scrape, which is what
// tests that don't wire a registry get.
type Metrics struct {
	grants      *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idforge_token_requests_total",
			Help: "Token endpoint outcomes by grant type and result.",
		}, []string{"grant_type", "result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idforge_introspection_cache_hits_total",
			Help: "Introspection requests answered from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idforge_introspection_cache_misses_total",
			Help: "Introspection requests that fell through to direct verification.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.grants, m.cacheHits, m.cacheMisses)
	}
	return m
}

// recordGrant counts one token request. The grant_type label is restricted
// to the known grants so client-supplied strings can't inflate cardinality.
func (m *Metrics) recordGrant(grantType string, err error) {
	switch grantType {
	case storage.GrantPassword, storage.GrantAuthorizationCode,
		storage.GrantRefreshToken, storage.GrantClientCredentials:
	default:
		grantType = "other"
	}

	result := "success"
	if err != nil {
		result = AsError(err).Code
	}
	m.grants.WithLabelValues(grantType, result).Inc()
}
