// Classhub - Multi-Tenant Education Platform Backend
// Copyright 2026 Classhub contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classhub/classhub

package jobrunner

import (
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/classhub/classhub/internal/logging"
	"github.com/classhub/classhub/internal/metrics"
)

// breakerRegistry holds one circuit breaker per satellite so a dead
// tenant cannot burn delivery attempts meant for healthy ones.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker[any])}
}

// get returns the tenant's breaker, creating it on first use.
//
// Breaker configuration:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func (r *breakerRegistry) get(tenantID string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[tenantID]; ok {
		return cb
	}

	cbName := "satellite-" + tenantID
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Str("tenant_id", tenantID).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening satellite circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("satellite circuit state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	r.breakers[tenantID] = cb
	return cb
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
