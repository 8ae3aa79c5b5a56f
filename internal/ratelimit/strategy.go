package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Strategy is a pacing profile for outbound requests. Each strategy maps
// to a fixed requests-per-minute ceiling enforced per endpoint.
type Strategy string

const (
	// StrategyConservative admits at most 6 requests per minute.
	StrategyConservative Strategy = "conservative"
	// StrategyNormal admits at most 12 requests per minute.
	StrategyNormal Strategy = "normal"
	// StrategyAggressive admits at most 30 requests per minute.
	StrategyAggressive Strategy = "aggressive"
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyConservative:
		return StrategyConservative, nil
	case StrategyNormal:
		return StrategyNormal, nil
	case StrategyAggressive:
		return StrategyAggressive, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (must be conservative, normal or aggressive)", s)
	}
}

// Valid reports whether s is one of the three known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyConservative, StrategyNormal, StrategyAggressive:
		return true
	}
	return false
}

func (s Strategy) String() string {
	return string(s)
}

// RequestsPerMinute returns the admission ceiling for the strategy.
// Unknown strategies fall back to the conservative ceiling.
func (s Strategy) RequestsPerMinute() int {
	switch s {
	case StrategyAggressive:
		return 30
	case StrategyNormal:
		return 12
	default:
		return 6
	}
}

// minInterval returns the minimum spacing between two admitted requests
// to the same endpoint under this strategy.
func (s Strategy) minInterval() time.Duration {
	return time.Minute / time.Duration(s.RequestsPerMinute())
}

// Downgrade returns the next more cautious strategy. Conservative is the
// floor and downgrades to itself.
func (s Strategy) Downgrade() Strategy {
	switch s {
	case StrategyAggressive:
		return StrategyNormal
	case StrategyNormal:
		return StrategyConservative
	default:
		return StrategyConservative
	}
}

// Config controls an AdaptiveLimiter and its retry helper.
type Config struct {
	// Strategy is the initial pacing profile.
	Strategy Strategy
	// BackoffFactor is the multiplicative base for inter-retry waits.
	BackoffFactor float64
	// MaxAttempts bounds how many times RetryWithBackoff runs an
	// operation, first call included.
	MaxAttempts int
	// Cooldown is how long an endpoint is blocked after the upstream
	// rejects a request with HTTP 429.
	Cooldown time.Duration
}

// DefaultConfig returns the limiter defaults: normal pacing, factor 2.0,
// three attempts and a one hour cooldown.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyNormal,
		BackoffFactor: 2.0,
		MaxAttempts:   3,
		Cooldown:      time.Hour,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if !c.Strategy.Valid() {
		c.Strategy = def.Strategy
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}
