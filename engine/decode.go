package engine

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// newDecoder wraps r according to a Content-Encoding header value.
// Stacked encodings are undone in reverse order of application.
func newDecoder(contentEncoding string, r io.Reader) (io.ReadCloser, error) {
	codings := strings.Split(contentEncoding, ",")
	out := io.NopCloser(r)
	var closers []io.Closer

	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var (
			next io.ReadCloser
			err  error
		)
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			next, err = gzip.NewReader(out)
		case "deflate":
			next, err = zlib.NewReader(out)
		case "zstd":
			var dec *zstd.Decoder
			dec, err = zstd.NewReader(out)
			if err == nil {
				next = dec.IOReadCloser()
			}
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", coding)
		}
		if errors.Is(err, io.EOF) {
			// empty body, nothing to decode
			return io.NopCloser(strings.NewReader("")), nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", coding, err)
		}
		closers = append(closers, next)
		out = next
	}

	return &stackedReader{ReadCloser: out, closers: closers}, nil
}

// stackedReader closes every decoder layer.
type stackedReader struct {
	io.ReadCloser
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
