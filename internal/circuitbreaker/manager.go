// Package circuitbreaker isolates the gateway's external dependencies
// behind per-service breakers so a failing facilitator or probe target
// cannot cascade into every request.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service with its own breaker.
type ServiceType string

const (
	ServiceFacilitator ServiceType = "facilitator"
	ServiceProbe       ServiceType = "upstream_probe"
	ServiceAnchor      ServiceType = "anchor_rpc"
)

// BreakerConfig configures a single breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultBreakerConfig trips after 5 consecutive failures or a 50%
// failure ratio over at least 10 requests, and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Config holds the manager-wide settings.
type Config struct {
	Enabled     bool
	Facilitator BreakerConfig
	Probe       BreakerConfig
	Anchor      BreakerConfig
}

// DefaultConfig enables all breakers with the default thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Facilitator: DefaultBreakerConfig(),
		Probe:       DefaultBreakerConfig(),
		Anchor:      DefaultBreakerConfig(),
	}
}

// Manager holds one breaker per external service. When disabled every
// call passes through untouched.
type Manager struct {
	enabled  bool
	breakers map[ServiceType]*gobreaker.CircuitBreaker
}

// NewManager builds a manager from config.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		enabled:  cfg.Enabled,
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
	}
	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceFacilitator] = gobreaker.NewCircuitBreaker(settings(string(ServiceFacilitator), cfg.Facilitator))
	m.breakers[ServiceProbe] = gobreaker.NewCircuitBreaker(settings(string(ServiceProbe), cfg.Probe))
	m.breakers[ServiceAnchor] = gobreaker.NewCircuitBreaker(settings(string(ServiceAnchor), cfg.Anchor))
	return m
}

// Execute runs fn behind the service's breaker. Unconfigured services
// pass through.
func (m *Manager) Execute(service ServiceType, fn func() (any, error)) (any, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State reports the breaker state for health endpoints.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func settings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
	}
}
