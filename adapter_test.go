package fanout

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestBuildSettings_Precedence(t *testing.T) {
	defaults := transferDefaults{
		timeout:      2 * time.Second,
		proxy:        "http://default-proxy:3128",
		maxRedirects: 0,
		debug:        true,
	}
	desc := description{method: "POST", url: "http://a.test/x", header: []string{"A: 1"}, body: []byte("payload")}

	tests := []struct {
		name         string
		opts         []RequestOption
		wantTimeout  time.Duration
		wantProxy    string
		wantRedirect int
		wantFollow   bool
		wantVerbose  bool
		wantInsecure bool
	}{
		{
			name:        "client defaults",
			wantTimeout: 2 * time.Second,
			wantProxy:   "http://default-proxy:3128",
			wantVerbose: true,
		},
		{
			name: "request overrides",
			opts: []RequestOption{
				WithRequestTimeout(250 * time.Millisecond),
				WithRequestProxy("socks5://127.0.0.1:1080"),
				WithRequestMaxRedirects(4),
				WithRequestDebug(false),
				WithRequestInsecureSkipVerify(true),
			},
			wantTimeout:  250 * time.Millisecond,
			wantProxy:    "socks5://127.0.0.1:1080",
			wantRedirect: 4,
			wantFollow:   true,
			wantInsecure: true,
		},
		{
			name:        "explicit zero values still override",
			opts:        []RequestOption{WithRequestTimeout(0), WithRequestProxy("")},
			wantTimeout: 0,
			wantProxy:   "",
			wantVerbose: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ro requestOptions
			for _, opt := range tt.opts {
				if err := opt(&ro); err != nil {
					t.Fatalf("option error = %v", err)
				}
			}
			s := buildSettings(desc, defaults, ro)

			if s.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", s.Timeout, tt.wantTimeout)
			}
			if s.Proxy != tt.wantProxy {
				t.Errorf("Proxy = %q, want %q", s.Proxy, tt.wantProxy)
			}
			if s.MaxRedirects != tt.wantRedirect || s.FollowRedirects != tt.wantFollow {
				t.Errorf("MaxRedirects = %d, FollowRedirects = %v, want %d and %v",
					s.MaxRedirects, s.FollowRedirects, tt.wantRedirect, tt.wantFollow)
			}
			if s.Verbose != tt.wantVerbose {
				t.Errorf("Verbose = %v, want %v", s.Verbose, tt.wantVerbose)
			}
			if s.InsecureSkipVerify != tt.wantInsecure {
				t.Errorf("InsecureSkipVerify = %v, want %v", s.InsecureSkipVerify, tt.wantInsecure)
			}
			if !s.Decode {
				t.Error("Decode should always be enabled")
			}
			if s.URL != desc.url || s.Method != desc.method || string(s.Body) != "payload" {
				t.Errorf("request fields not carried over: %+v", s)
			}
		})
	}
}

func TestBuildSettings_TLSVerificationOnByDefault(t *testing.T) {
	s := buildSettings(description{url: "https://a.test/"}, transferDefaults{}, requestOptions{})
	if s.InsecureSkipVerify {
		t.Error("TLS verification should be on by default")
	}
	if s.FollowRedirects {
		t.Error("redirects should not be followed by default")
	}
	if s.Body != nil {
		t.Errorf("Body = %q, want nil for an empty body", s.Body)
	}
}

func TestRequestOptions_Validation(t *testing.T) {
	var ro requestOptions
	if err := WithRequestTimeout(-time.Second)(&ro); err == nil {
		t.Error("negative timeout should fail")
	}
	if err := WithRequestMaxRedirects(-1)(&ro); err == nil {
		t.Error("negative redirects should fail")
	}
}

func TestMessage_Describe(t *testing.T) {
	d, err := Message{
		URL: "https://a.test/path?q=1",
		Header: http.Header{
			"X-B":    {"2"},
			"X-A":    {"1", "one"},
			"Accept": {""},
		},
	}.describe()
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	if d.method != http.MethodGet {
		t.Errorf("method = %q, want GET", d.method)
	}
	want := "Accept:|X-A: 1|X-A: one|X-B: 2"
	if got := strings.Join(d.header, "|"); got != want {
		t.Errorf("header = %q, want %q", got, want)
	}
}

func TestFromHTTP(t *testing.T) {
	r, err := http.NewRequest(http.MethodPut, "http://a.test/upload", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	r.Host = "virtual.test"
	r.Header.Set("Content-Type", "text/plain")

	sr, err := FromHTTP(r)
	if err != nil {
		t.Fatalf("FromHTTP() error = %v", err)
	}
	if sr.HTTPRequest() != r {
		t.Error("HTTPRequest() should return the wrapped request")
	}

	d, err := sr.describe()
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	if d.method != http.MethodPut || string(d.body) != "data" {
		t.Errorf("method = %q, body = %q, want PUT and data", d.method, d.body)
	}
	if got := strings.Join(d.header, "|"); got != "Content-Type: text/plain|Host: virtual.test" {
		t.Errorf("header = %q", got)
	}

	// the original body is still readable
	rc, err := r.GetBody()
	if err != nil {
		t.Fatalf("GetBody() error = %v", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, rc); err != nil || buf.String() != "data" {
		t.Errorf("original body = %q, err = %v", buf.String(), err)
	}

	if _, err := FromHTTP(nil); err == nil {
		t.Error("FromHTTP(nil) should fail")
	}
}
