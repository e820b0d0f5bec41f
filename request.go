package fanout

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Request describes an HTTP request to submit to a [Client].
//
// The set of implementations is closed: use [Message] for a plain
// description or [FromHTTP] to wrap a [*http.Request]. Any other value is
// rejected at submission time.
type Request interface {
	describe() (description, error)
}

// description is the engine-neutral form of a request.
type description struct {
	method string
	url    string
	header []string
	body   []byte
}

// Message is a plain request description.
//
// Method defaults to GET. Header values are sent in sorted key order; an
// empty value suppresses a header the engine would otherwise send.
//
// Example:
//
//	msg := fanout.Message{
//	    Method: http.MethodPost,
//	    URL:    "https://api.example.com/items",
//	    Header: http.Header{"Content-Type": {"application/json"}},
//	    Body:   []byte(`{"name":"widget"}`),
//	}
type Message struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (m Message) describe() (description, error) {
	return newDescription(m.Method, m.URL, m.Header, "", m.Body)
}

// StdRequest wraps a [*http.Request] for submission. Create one with
// [FromHTTP].
type StdRequest struct {
	req  *http.Request
	body []byte
}

// FromHTTP wraps r. The body, if any, is read in full now; r.Body is left
// readable afterwards.
//
// Returns an error wrapping [ErrUnsupportedRequest] if r is nil or its body
// cannot be read.
func FromHTTP(r *http.Request) (*StdRequest, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil *http.Request", ErrUnsupportedRequest)
	}

	var body []byte
	switch {
	case r.GetBody != nil:
		rc, err := r.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUnsupportedRequest, err)
		}
		body, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUnsupportedRequest, err)
		}
	case r.Body != nil && r.Body != http.NoBody:
		b, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUnsupportedRequest, err)
		}
		body = b
		r.Body = io.NopCloser(bytes.NewReader(b))
	}

	return &StdRequest{req: r, body: body}, nil
}

// HTTPRequest returns the wrapped request.
func (s *StdRequest) HTTPRequest() *http.Request {
	return s.req
}

func (s *StdRequest) describe() (description, error) {
	if s == nil || s.req == nil || s.req.URL == nil {
		return description{}, fmt.Errorf("%w: nil *http.Request", ErrUnsupportedRequest)
	}
	host := ""
	if s.req.Host != "" && s.req.Host != s.req.URL.Host {
		host = s.req.Host
	}
	return newDescription(s.req.Method, s.req.URL.String(), s.req.Header, host, s.body)
}

func newDescription(method, rawURL string, header http.Header, host string, body []byte) (description, error) {
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return description{}, fmt.Errorf("%w: invalid method %q", ErrUnsupportedRequest, method)
	}

	if rawURL == "" {
		return description{}, fmt.Errorf("%w: empty URL", ErrUnsupportedRequest)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return description{}, fmt.Errorf("%w: %v", ErrUnsupportedRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return description{}, fmt.Errorf("%w: scheme %q is not http or https", ErrUnsupportedRequest, u.Scheme)
	}
	if u.Host == "" {
		return description{}, fmt.Errorf("%w: URL %q has no host", ErrUnsupportedRequest, rawURL)
	}

	lines, err := headerLines(header)
	if err != nil {
		return description{}, err
	}
	if host != "" {
		lines = append(lines, "Host: "+host)
	}

	return description{
		method: method,
		url:    u.String(),
		header: lines,
		body:   body,
	}, nil
}

// headerLines flattens h into "Key: Value" lines in sorted key order.
func headerLines(h http.Header) ([]string, error) {
	keys := make([]string, 0, len(h))
	for k := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, fmt.Errorf("%w: invalid header name %q", ErrUnsupportedRequest, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		values := h[k]
		if len(values) == 0 {
			lines = append(lines, k+":")
			continue
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("%w: invalid value for header %q", ErrUnsupportedRequest, k)
			}
			lines = append(lines, strings.TrimRight(k+": "+v, " "))
		}
	}
	return lines, nil
}
