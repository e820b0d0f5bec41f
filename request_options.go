package fanout

import (
	"errors"
	"time"
)

// ResponseFunc receives a completed response.
type ResponseFunc func(c *Client, req Request, resp *Response, stats Stats)

// ErrorFunc receives a failed request. err describes the failure; for
// transport failures it carries the engine diagnostic.
type ErrorFunc func(c *Client, req Request, err error, stats Stats)

// Listener receives the terminal event of a single request. Either field
// may be nil.
type Listener struct {
	OnResponse ResponseFunc
	OnError    ErrorFunc
}

// requestOptions holds per-request overrides. A nil field falls back to the
// client default.
type requestOptions struct {
	timeout      *time.Duration
	proxy        *string
	maxRedirects *int
	debug        *bool
	insecure     *bool
	listener     Listener
}

// RequestOption overrides a client default for one request.
type RequestOption func(*requestOptions) error

// WithRequestTimeout overrides the client timeout. Zero disables the
// timeout for this request.
//
// Returns an error if d is negative.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) error {
		if d < 0 {
			return errors.New("timeout cannot be negative")
		}
		o.timeout = &d
		return nil
	}
}

// WithRequestProxy overrides the client proxy. An empty string connects
// directly.
func WithRequestProxy(proxy string) RequestOption {
	return func(o *requestOptions) error {
		o.proxy = &proxy
		return nil
	}
}

// WithRequestMaxRedirects overrides the client redirect cap. Zero disables
// following for this request.
//
// Returns an error if n is negative.
func WithRequestMaxRedirects(n int) RequestOption {
	return func(o *requestOptions) error {
		if n < 0 {
			return errors.New("max redirects cannot be negative")
		}
		o.maxRedirects = &n
		return nil
	}
}

// WithRequestDebug overrides verbose tracing for this request.
func WithRequestDebug(enabled bool) RequestOption {
	return func(o *requestOptions) error {
		o.debug = &enabled
		return nil
	}
}

// WithRequestInsecureSkipVerify overrides TLS peer verification for this
// request.
func WithRequestInsecureSkipVerify(skip bool) RequestOption {
	return func(o *requestOptions) error {
		o.insecure = &skip
		return nil
	}
}

// WithListener notifies l of this request's terminal event, before any
// client-level listener.
//
// Example:
//
//	_, err := c.Request(msg, fanout.WithListener(fanout.Listener{
//	    OnResponse: func(c *fanout.Client, req fanout.Request, resp *fanout.Response, st fanout.Stats) {
//	        fmt.Println(resp.Status)
//	    },
//	}))
func WithListener(l Listener) RequestOption {
	return func(o *requestOptions) error {
		o.listener = l
		return nil
	}
}
