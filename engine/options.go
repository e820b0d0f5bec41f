package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultDialTimeout         = 30 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultIdleConnTimeout     = 60 * time.Second
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
)

// engineConfig holds mutable state during HTTPMulti construction.
type engineConfig struct {
	clock       clock.Clock
	logger      *slog.Logger
	dnsCacheLen int
	dnsCacheTTL time.Duration
	dialTimeout time.Duration
}

// Option configures an [HTTPMulti] during construction.
type Option func(*engineConfig) error

// WithClock sets the clock used for transfer timings and timeouts.
// Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(cfg *engineConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithLogger sets the logger used for verbose transfers and internal
// diagnostics. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithDNSCache enables an engine-wide host lookup cache holding up to size
// entries for ttl each. The cache is disabled unless this option is given.
func WithDNSCache(size int, ttl time.Duration) Option {
	return func(cfg *engineConfig) error {
		if size <= 0 {
			return errors.New("dns cache size must be positive")
		}
		if ttl <= 0 {
			return errors.New("dns cache ttl must be positive")
		}
		cfg.dnsCacheLen = size
		cfg.dnsCacheTTL = ttl
		return nil
	}
}

// WithDialTimeout bounds each TCP connect. Defaults to 30 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		cfg.dialTimeout = d
		return nil
	}
}
