package fanout

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/fanout/engine"
)

const defaultTickInterval = 500 * time.Millisecond

// clientConfig holds mutable state during Client construction.
type clientConfig struct {
	concurrency   int
	defaults      transferDefaults
	tickInterval  time.Duration
	logger        *slog.Logger
	multi         engine.Multi
	engineOptions []engine.Option
	registerer    prometheus.Registerer
}

// Option is a function that configures a [Client] during construction.
//
// Options return an error if validation fails, which [New] passes back.
type Option func(*clientConfig) error

// WithConcurrency caps how many requests run at once. Zero, the default,
// means no limit. Requests beyond the cap wait in submission order.
//
// Example:
//
//	c, err := fanout.New(l, fanout.WithConcurrency(8))
//
// The limit can be changed later with [Client.SetConcurrency].
//
// Returns an error if n is negative.
func WithConcurrency(n int) Option {
	return func(cfg *clientConfig) error {
		if n < 0 {
			return errors.New("concurrency cannot be negative")
		}
		cfg.concurrency = n
		return nil
	}
}

// WithTimeout sets the default per-request timeout. Zero, the default,
// means no timeout. Sub-second values are honored.
//
// The timeout bounds the whole transfer, redirects included; a transfer
// that runs out of time ends in an error event. [WithRequestTimeout]
// overrides it for one request.
//
// Example:
//
//	c, err := fanout.New(l, fanout.WithTimeout(750*time.Millisecond))
//
// Returns an error if d is negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return errors.New("timeout cannot be negative")
		}
		cfg.defaults.timeout = d
		return nil
	}
}

// WithProxy sets the default proxy, e.g. "http://proxy:3128" or
// "socks5://127.0.0.1:1080". A bare "host:port" is treated as http.
//
// Supported schemes are http, https, socks5 and socks5h. An invalid proxy
// is not rejected here; requests using it end in an error event.
// [WithRequestProxy] overrides it for one request.
func WithProxy(proxy string) Option {
	return func(cfg *clientConfig) error {
		cfg.defaults.proxy = proxy
		return nil
	}
}

// WithMaxRedirects sets how many redirects a request follows by default.
// Zero, the default, disables following: the redirect response itself is
// delivered.
//
// When following, the response carries the headers of the final hop.
// Authorization, Cookie and Proxy-Authorization headers and any Host
// override are not sent to a host other than the original one. Exceeding
// the cap ends the request in an error event.
//
// Example:
//
//	c, err := fanout.New(l, fanout.WithMaxRedirects(5))
//
// Returns an error if n is negative.
func WithMaxRedirects(n int) Option {
	return func(cfg *clientConfig) error {
		if n < 0 {
			return errors.New("max redirects cannot be negative")
		}
		cfg.defaults.maxRedirects = n
		return nil
	}
}

// WithDebug enables verbose transfer tracing at debug level.
//
// Each hop of a transfer is logged through the client logger. Off by
// default; [Client.SetDebug] changes it for later requests.
func WithDebug(enabled bool) Option {
	return func(cfg *clientConfig) error {
		cfg.defaults.debug = enabled
		return nil
	}
}

// WithInsecureSkipVerify disables TLS peer verification for every request
// by default. Verification is on unless this option is given.
func WithInsecureSkipVerify(skip bool) Option {
	return func(cfg *clientConfig) error {
		cfg.defaults.insecure = skip
		return nil
	}
}

// WithTickInterval sets the period of the fallback timer that drives
// transfers when no readiness event arrives. Defaults to 500ms.
//
// The timer only runs while requests are admitted. A missed readiness event
// is recovered within one period.
//
// Returns an error if d is zero or negative.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("tick interval must be positive")
		}
		cfg.tickInterval = d
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the client and, unless
// [WithEngine] is given, for the engine it creates. Defaults to
// [slog.Default].
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithEngine makes the client drive m instead of creating an
// [engine.HTTPMulti]. The client takes exclusive use of m but does not
// close it.
//
// Returns an error if m is nil.
func WithEngine(m engine.Multi) Option {
	return func(cfg *clientConfig) error {
		if m == nil {
			return errors.New("engine cannot be nil")
		}
		cfg.multi = m
		return nil
	}
}

// WithEngineOptions passes options to the engine the client creates, for
// example [engine.WithDNSCache]. Ignored when [WithEngine] is given.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(cfg *clientConfig) error {
		cfg.engineOptions = append(cfg.engineOptions, opts...)
		return nil
	}
}

// WithMetrics registers the client's Prometheus collectors with reg.
//
// The collectors are fanout_admitted_transfers, fanout_pending_requests,
// fanout_responses_total, fanout_errors_total, fanout_canceled_total and
// fanout_transfer_duration_seconds. Without this option no metrics are kept.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	c, err := fanout.New(l, fanout.WithMetrics(reg))
//
// Registering two clients with the same registerer makes [New] fail.
//
// Returns an error if reg is nil.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *clientConfig) error {
		if reg == nil {
			return errors.New("metrics registerer cannot be nil")
		}
		cfg.registerer = reg
		return nil
	}
}
