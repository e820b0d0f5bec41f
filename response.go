package fanout

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Response is a completed HTTP response.
type Response struct {
	// Proto is the protocol of the final response, e.g. "HTTP/1.1".
	Proto string

	// StatusCode is the status of the final response.
	StatusCode int

	// Status is the code and reason phrase, e.g. "200 OK".
	Status string

	// Header holds the headers of the final response only. Headers of
	// redirect hops and interim responses are discarded.
	Header http.Header

	// Body is the complete response body.
	Body []byte

	// Request is the request as it was submitted.
	Request Request
}

// buildResponse assembles a Response from the accumulated header text and
// body of a transfer.
func buildResponse(rawHeader, body []byte, req Request) (*Response, error) {
	block := lastHeaderBlock(rawHeader)
	if block == "" {
		return nil, fmt.Errorf("%w: no header block", ErrMalformedResponse)
	}

	statusLine, rest, _ := strings.Cut(block, "\n")
	proto, code, status, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	tp := textproto.NewReader(bufio.NewReader(strings.NewReader(rest + "\n\n")))
	mime, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &Response{
		Proto:      proto,
		StatusCode: code,
		Status:     status,
		Header:     http.Header(mime),
		Body:       body,
		Request:    req,
	}, nil
}

// lastHeaderBlock returns the final blank-line separated block of raw,
// with line endings normalized to "\n" and no trailing newline.
func lastHeaderBlock(raw []byte) string {
	text := string(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n")))
	text = strings.TrimRight(text, "\n")
	if i := strings.LastIndex(text, "\n\n"); i >= 0 {
		text = text[i+2:]
	}
	return strings.TrimLeft(text, "\n")
}

func parseStatusLine(line string) (proto string, code int, status string, err error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return "", 0, "", fmt.Errorf("%w: bad status line %q", ErrMalformedResponse, line)
	}
	codeText, reason, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if len(codeText) != 3 {
		return "", 0, "", fmt.Errorf("%w: bad status code %q", ErrMalformedResponse, codeText)
	}
	code, err = strconv.Atoi(codeText)
	if err != nil || code < 100 {
		return "", 0, "", fmt.Errorf("%w: bad status code %q", ErrMalformedResponse, codeText)
	}

	status = codeText
	if reason = strings.TrimSpace(reason); reason != "" {
		status += " " + reason
	}
	return proto, code, status, nil
}
