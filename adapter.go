package fanout

import (
	"time"

	"github.com/jpalmerr/fanout/engine"
)

// transferDefaults are the client-level transfer settings.
type transferDefaults struct {
	timeout      time.Duration
	proxy        string
	maxRedirects int
	debug        bool
	insecure     bool
}

// buildSettings resolves the engine settings for one request. Request
// overrides win over client defaults.
func buildSettings(d description, defaults transferDefaults, o requestOptions) engine.Settings {
	s := engine.Settings{
		URL:                d.url,
		Method:             d.method,
		Header:             d.header,
		Decode:             true,
		Verbose:            defaults.debug,
		Proxy:              defaults.proxy,
		Timeout:            defaults.timeout,
		MaxRedirects:       defaults.maxRedirects,
		InsecureSkipVerify: defaults.insecure,
	}
	if len(d.body) > 0 {
		s.Body = d.body
	}

	if o.timeout != nil {
		s.Timeout = *o.timeout
	}
	if o.proxy != nil {
		s.Proxy = *o.proxy
	}
	if o.maxRedirects != nil {
		s.MaxRedirects = *o.maxRedirects
	}
	if o.debug != nil {
		s.Verbose = *o.debug
	}
	if o.insecure != nil {
		s.InsecureSkipVerify = *o.insecure
	}

	s.FollowRedirects = s.MaxRedirects > 0
	return s
}
