package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultAcceptEncoding = "gzip, deflate, zstd"

// timing collects per-transfer durations. httptrace hooks may fire on
// transport goroutines, so every field is guarded.
type timing struct {
	mu   sync.Mutex
	info Info
}

func (t *timing) set(field *time.Duration, d time.Duration) {
	t.mu.Lock()
	if *field == 0 {
		*field = d
	}
	t.mu.Unlock()
}

func (t *timing) firstByte(d time.Duration) {
	t.mu.Lock()
	t.info.StartTransfer = d
	t.mu.Unlock()
}

func (t *timing) total(d time.Duration) {
	t.mu.Lock()
	t.info.Total = d
	t.mu.Unlock()
}

func (t *timing) addBytes(down, up int64) {
	t.mu.Lock()
	t.info.Downloaded += down
	t.info.Uploaded += up
	t.mu.Unlock()
}

func (t *timing) snapshot() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// transfer performs the request in r, following redirects by hand so each
// hop's header block reaches the header sink.
func (m *HTTPMulti) transfer(ctx context.Context, r *run, client *http.Client, start time.Time) error {
	s := r.t.Settings
	method := s.Method
	if method == "" {
		method = http.MethodGet
	}
	target := s.URL
	body := s.Body

	trace := &httptrace.ClientTrace{
		DNSDone: func(httptrace.DNSDoneInfo) {
			r.timing.set(&r.timing.info.NameLookup, m.clock.Since(start))
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				r.timing.set(&r.timing.info.Connect, m.clock.Since(start))
			}
		},
		GotFirstResponseByte: func() {
			r.timing.firstByte(m.clock.Since(start))
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	var (
		originHost string
		crossHost  bool
	)
	for hops := 0; ; hops++ {
		req, err := newRequest(ctx, method, target, s.Header, body, s.Decode, crossHost)
		if err != nil {
			return err
		}
		if hops == 0 {
			originHost = req.URL.Host
		}
		if s.Verbose {
			m.logger.Debug("sending request",
				"transfer_id", r.t.ID,
				"method", method,
				"url", target,
				"hop", hops,
			)
		}

		resp, err := client.Do(req)
		if err != nil {
			return m.describe(ctx, s, err)
		}
		r.timing.addBytes(0, int64(len(body)))
		writeHeaderBlock(&r.header, resp)

		if s.Verbose {
			m.logger.Debug("received response",
				"transfer_id", r.t.ID,
				"status", resp.Status,
				"proto", resp.Proto,
			)
		}

		loc, locErr := resp.Location()
		if !s.FollowRedirects || !isRedirect(resp.StatusCode) || locErr != nil {
			err := m.readBody(r, resp, s.Decode)
			_ = resp.Body.Close()
			if err != nil {
				return m.describe(ctx, s, err)
			}
			return nil
		}

		n, _ := io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		r.timing.addBytes(n, 0)

		if hops >= s.MaxRedirects {
			return fmt.Errorf("%w: maximum (%d) redirects followed", ErrTooManyRedirects, s.MaxRedirects)
		}
		target = loc.String()
		crossHost = !strings.EqualFold(loc.Host, originHost)
		method, body = redirectMethod(resp.StatusCode, method, body)
	}
}

// describe turns a transport error into the engine diagnostic.
func (m *HTTPMulti) describe(ctx context.Context, s Settings, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %d milliseconds", ErrTimeout, s.Timeout.Milliseconds())
	}
	return err
}

// readBody streams the response body into r, decoding it when enabled.
// Downloaded counts bytes as received on the wire.
func (m *HTTPMulti) readBody(r *run, resp *http.Response, decode bool) error {
	counter := &countingReader{r: resp.Body}
	var src io.Reader = counter

	if decode {
		dec, err := newDecoder(resp.Header.Get("Content-Encoding"), counter)
		if err != nil {
			return err
		}
		defer func() { _ = dec.Close() }()
		src = dec
	}

	_, err := io.Copy(&r.body, src)
	r.timing.addBytes(counter.n, 0)
	return err
}

// credentialHeaders are not sent to a host other than the one the transfer
// started on.
var credentialHeaders = map[string]struct{}{
	"Authorization":       {},
	"Cookie":              {},
	"Proxy-Authorization": {},
	"Host":                {},
}

// newRequest builds one hop of a transfer. When crossHost is set the hop
// targets a different host than the first one, and credential headers and
// any Host override are left out.
func newRequest(ctx context.Context, method, target string, lines []string, body []byte, decode, crossHost bool) (*http.Request, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.ContentLength = int64(len(body))
	}

	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if _, secret := credentialHeaders[http.CanonicalHeaderKey(key)]; secret && crossHost {
			continue
		}
		if value == "" {
			req.Header.Del(key)
			continue
		}
		if strings.EqualFold(key, "Host") {
			req.Host = value
			continue
		}
		req.Header.Add(key, value)
	}

	if decode && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", defaultAcceptEncoding)
	}
	return req, nil
}

// writeHeaderBlock appends the status line and headers of resp, terminated
// by a blank line. Header keys are written in sorted order.
func writeHeaderBlock(buf *bytes.Buffer, resp *http.Response) {
	buf.WriteString(resp.Proto)
	buf.WriteByte(' ')
	if resp.Status != "" {
		buf.WriteString(resp.Status)
	} else {
		buf.WriteString(strconv.Itoa(resp.StatusCode))
	}
	buf.WriteString("\r\n")

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// redirectMethod returns the method and body for the next hop.
// 307 and 308 replay the request; the others switch to GET unless the
// request was already a GET or HEAD.
func redirectMethod(code int, method string, body []byte) (string, []byte) {
	switch code {
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return method, body
	}
	if method == http.MethodGet || method == http.MethodHead {
		return method, nil
	}
	return http.MethodGet, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
