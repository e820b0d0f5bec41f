// Package config parses fanout batch files.
//
// A batch file lists the requests to run and the client defaults they run
// under. Grids expand one templated request into the cartesian product of
// their dimensions.
//
// Example batch:
//
//	concurrency: 8
//	timeout: 10s
//	max_redirects: 5
//
//	requests:
//	  - name: GitHub API
//	    url: https://api.github.com
//	    headers:
//	      Authorization: "Bearer ${GITHUB_TOKEN}"
//	    status: json:status
//
//	grids:
//	  - name: Platform
//	    url_template: "https://{{.env}}.example.com/health"
//	    interval: 30s
//	    dimensions:
//	      env: [prod, staging]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConcurrency = 10
	defaultTimeout     = 30 * time.Second

	minInterval = time.Second
	maxInterval = 24 * time.Hour
)

// methodPattern accepts upper-case HTTP method tokens.
var methodPattern = regexp.MustCompile(`^[A-Z]+$`)

// Config is the root of a batch file.
type Config struct {
	// Title is shown on the live results page.
	Title string `yaml:"title"`

	// Concurrency caps requests in flight. Defaults to 10.
	Concurrency int `yaml:"concurrency"`

	// Timeout is the default per-request timeout. Defaults to 30s; "0s"
	// disables it.
	Timeout *Duration `yaml:"timeout"`

	// Proxy is the default proxy URL (http, https, socks5, socks5h).
	Proxy string `yaml:"proxy"`

	// MaxRedirects is the default redirect cap. Zero disables following.
	MaxRedirects int `yaml:"max_redirects"`

	// Debug enables verbose transfer logging.
	Debug bool `yaml:"debug"`

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// DNSCacheTTL enables the engine's host cache when set.
	DNSCacheTTL Duration `yaml:"dns_cache_ttl"`

	// Listen serves the live results page when set, e.g. ":8080".
	Listen string `yaml:"listen"`

	// DB appends every result to a SQLite database when set.
	DB string `yaml:"db"`

	Requests []RequestConfig `yaml:"requests"`
	Grids    []GridConfig    `yaml:"grids"`
}

// RequestConfig is one named request.
type RequestConfig struct {
	Name string `yaml:"name"`

	// URL supports ${VAR} and ${VAR:-default} substitution.
	URL string `yaml:"url"`

	// Method defaults to GET.
	Method string `yaml:"method"`

	// Headers values support environment substitution.
	Headers map[string]string `yaml:"headers"`

	Body string `yaml:"body"`

	// Timeout, MaxRedirects and Proxy override the batch defaults.
	Timeout      *Duration `yaml:"timeout"`
	MaxRedirects *int      `yaml:"max_redirects"`
	Proxy        *string   `yaml:"proxy"`

	// Interval repeats the request. Unset runs it once.
	Interval Duration `yaml:"interval"`

	Labels map[string]string `yaml:"labels"`

	// Status selects how a response is classified.
	Status StatusConfig `yaml:"status"`
}

// GridConfig expands into one request per combination of dimension values.
//
// With dimensions {env: [prod, staging], svc: [api, web]} a grid yields four
// requests. Dimension values become labels and template variables.
type GridConfig struct {
	// Name is the base name; each request appends its dimension values.
	Name string `yaml:"name"`

	// URLTemplate is a text/template over the dimension keys.
	URLTemplate string `yaml:"url_template"`

	Dimensions map[string][]string `yaml:"dimensions"`

	Method       string            `yaml:"method"`
	Headers      map[string]string `yaml:"headers"`
	Body         string            `yaml:"body"`
	Timeout      *Duration         `yaml:"timeout"`
	MaxRedirects *int              `yaml:"max_redirects"`
	Proxy        *string           `yaml:"proxy"`
	Interval     Duration          `yaml:"interval"`
	Labels       map[string]string `yaml:"labels"`
	Status       StatusConfig      `yaml:"status"`
}

// StatusConfig selects a response classifier.
//
// It accepts a shorthand string:
//
//	status: json:data.health.status
//	status: contains:ok
//	status: http
//
// or an object:
//
//	status:
//	  type: regex
//	  pattern: 'state=(\w+)'
//	  match: good
type StatusConfig struct {
	// Type is "default", "http", "json", "contains" or "regex".
	Type string

	// Path is the JSON field path for type json.
	Path string

	// Text is the substring for type contains.
	Text string

	// Pattern and Match drive type regex.
	Pattern string
	Match   string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for StatusConfig.
func (s *StatusConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		return s.parseShorthand(v)
	case yaml.MappingNode:
		var raw struct {
			Type    string `yaml:"type"`
			Path    string `yaml:"path"`
			Text    string `yaml:"text"`
			Pattern string `yaml:"pattern"`
			Match   string `yaml:"match"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*s = StatusConfig(raw)
		return nil
	}
	return fmt.Errorf("status must be a string or object, got %v", node.Kind)
}

func (s *StatusConfig) parseShorthand(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	if kind, arg, ok := strings.Cut(v, ":"); ok {
		s.Type = kind
		switch kind {
		case "json":
			s.Path = arg
		case "contains":
			s.Text = arg
		default:
			return fmt.Errorf("unknown status type %q", kind)
		}
		return nil
	}

	switch v {
	case "default", "http":
		s.Type = v
	default:
		return fmt.Errorf("unknown status %q (expected 'default', 'http', 'json:path', or 'contains:text')", v)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
// An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] != "", m[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a batch file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return Parse(data)
}

// Parse parses batch YAML, applies defaults, expands environment variables
// in URLs, templates, bodies and header values, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout == nil {
		d := Duration(defaultTimeout)
		cfg.Timeout = &d
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// shared holds the fields requests and grids validate the same way.
type shared struct {
	method       string
	headers      map[string]string
	body         *string
	timeout      *Duration
	maxRedirects *int
	proxy        *string
	interval     Duration
	status       *StatusConfig
}

func (c *Config) expandAndValidate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Timeout.Duration() < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout.Duration())
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects cannot be negative, got %d", c.MaxRedirects)
	}
	if c.DNSCacheTTL.Duration() < 0 {
		return fmt.Errorf("dns_cache_ttl cannot be negative, got %s", c.DNSCacheTTL.Duration())
	}
	if err := validateProxy(c.Proxy); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	for i := range c.Requests {
		r := &c.Requests[i]
		where := fmt.Sprintf("requests[%d] (%s)", i, r.Name)

		if r.Name == "" {
			return fmt.Errorf("requests[%d]: name is required", i)
		}
		if r.URL == "" {
			return fmt.Errorf("%s: url is required", where)
		}
		expanded, err := expandEnvVars(r.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", where, err)
		}
		r.URL = expanded
		if err := validateURL(r.URL); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}

		err = validateShared(where, shared{
			method: r.Method, headers: r.Headers, body: &r.Body, timeout: r.Timeout,
			maxRedirects: r.MaxRedirects, proxy: r.Proxy, interval: r.Interval, status: &r.Status,
		})
		if err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]
		where := fmt.Sprintf("grids[%d] (%s)", i, g.Name)

		if g.Name == "" {
			return fmt.Errorf("grids[%d]: name is required", i)
		}
		if g.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", where)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", where, err)
		}
		g.URLTemplate = expanded
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", where, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", where)
		}
		for dim, values := range g.Dimensions {
			if len(values) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", where, dim)
			}
			seen := make(map[string]struct{}, len(values))
			for _, v := range values {
				if _, dup := seen[v]; dup {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", where, dim, v)
				}
				seen[v] = struct{}{}
			}
		}

		err = validateShared(where, shared{
			method: g.Method, headers: g.Headers, body: &g.Body, timeout: g.Timeout,
			maxRedirects: g.MaxRedirects, proxy: g.Proxy, interval: g.Interval, status: &g.Status,
		})
		if err != nil {
			return err
		}
	}

	if len(c.Requests) == 0 && len(c.Grids) == 0 {
		return errors.New("at least one request or grid must be defined")
	}
	return nil
}

func validateShared(where string, s shared) error {
	if s.method != "" && !methodPattern.MatchString(s.method) {
		return fmt.Errorf("%s: method must be an upper-case token, got %q", where, s.method)
	}

	for k, v := range s.headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", where, k, err)
		}
		s.headers[k] = expanded
	}

	expanded, err := expandEnvVars(*s.body)
	if err != nil {
		return fmt.Errorf("%s: body: %w", where, err)
	}
	*s.body = expanded

	if s.timeout != nil && s.timeout.Duration() < 0 {
		return fmt.Errorf("%s: timeout cannot be negative, got %s", where, s.timeout.Duration())
	}
	if s.maxRedirects != nil && *s.maxRedirects < 0 {
		return fmt.Errorf("%s: max_redirects cannot be negative, got %d", where, *s.maxRedirects)
	}
	if s.proxy != nil {
		if err := validateProxy(*s.proxy); err != nil {
			return fmt.Errorf("%s: proxy: %w", where, err)
		}
	}

	if s.interval != 0 {
		if d := s.interval.Duration(); d < minInterval || d > maxInterval {
			return fmt.Errorf("%s: interval must be between %s and %s, got %s", where, minInterval, maxInterval, d)
		}
	}

	return validateStatus(s.status, where)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

func validateProxy(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
		return nil
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func validateStatus(s *StatusConfig, where string) error {
	switch s.Type {
	case "", "default", "http":
	case "json":
		if s.Path == "" {
			return fmt.Errorf("%s: status type 'json' requires a path", where)
		}
	case "contains":
		if s.Text == "" {
			return fmt.Errorf("%s: status type 'contains' requires text", where)
		}
	case "regex":
		if s.Pattern == "" {
			return fmt.Errorf("%s: status type 'regex' requires a pattern", where)
		}
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("%s: status pattern: %w", where, err)
		}
	default:
		return fmt.Errorf("%s: unknown status type %q", where, s.Type)
	}
	return nil
}
