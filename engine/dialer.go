package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/net/proxy"
)

// dialFunc matches http.Transport.DialContext.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// contextDialer adapts a dialFunc to the proxy.Dialer and proxy.ContextDialer
// interfaces so it can forward socks connections.
type contextDialer struct {
	dial dialFunc
}

func (d contextDialer) Dial(network, addr string) (net.Conn, error) {
	return d.dial(context.Background(), network, addr)
}

func (d contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dial(ctx, network, addr)
}

// hostCache caches host lookups for the whole engine.
type hostCache struct {
	entries *expirable.LRU[string, []string]
	lookup  func(ctx context.Context, host string) ([]string, error)
}

func newHostCache(size int, ttl time.Duration) *hostCache {
	return &hostCache{
		entries: expirable.NewLRU[string, []string](size, nil, ttl),
		lookup:  net.DefaultResolver.LookupHost,
	}
}

// lookupHost returns cached addresses for host, resolving on a miss.
// Failed lookups are not cached.
func (c *hostCache) lookupHost(ctx context.Context, host string) ([]string, error) {
	if addrs, ok := c.entries.Get(host); ok {
		return addrs, nil
	}
	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	c.entries.Add(host, addrs)
	return addrs, nil
}

// wrap returns a dialFunc that resolves through the cache and tries each
// address in order.
func (c *hostCache) wrap(next dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) != nil {
			return next(ctx, network, addr)
		}

		addrs, err := c.lookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		var firstErr error
		for _, a := range addrs {
			conn, err := next(ctx, network, net.JoinHostPort(a, port))
			if err == nil {
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("no addresses for host %q", host)
		}
		return nil, firstErr
	}
}

// transportKey identifies the transport settings transfers can share.
type transportKey struct {
	proxy    string
	insecure bool
}

// newTransport builds a transport for key. Compression is disabled so the
// engine controls Accept-Encoding and decoding itself.
func (m *HTTPMulti) newTransport(key transportKey) (*http.Transport, error) {
	netDialer := &net.Dialer{
		Timeout:   m.cfg.dialTimeout,
		KeepAlive: defaultKeepAlive,
	}
	dial := dialFunc(netDialer.DialContext)
	if m.hosts != nil {
		dial = m.hosts.wrap(dial)
	}

	tr := &http.Transport{
		DialContext:         dial,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		DisableCompression:  true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: key.insecure, //nolint:gosec // explicit per-transfer opt-out
		},
	}

	if key.proxy == "" {
		return tr, nil
	}

	proxyURL, err := parseProxyURL(key.proxy)
	if err != nil {
		return nil, err
	}

	switch proxyURL.Scheme {
	case "http", "https":
		tr.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		d, err := proxy.FromURL(proxyURL, contextDialer{dial: dial})
		if err != nil {
			return nil, fmt.Errorf("socks proxy %q: %w", key.proxy, err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks proxy %q: dialer does not support contexts", key.proxy)
		}
		tr.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	return tr, nil
}

// parseProxyURL parses a proxy address, defaulting to http when no scheme
// is given.
func parseProxyURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
	}
	return u, nil
}
