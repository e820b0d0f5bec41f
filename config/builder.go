package config

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/template"

	"github.com/jpalmerr/fanout"
	"github.com/jpalmerr/fanout/engine"
	"github.com/jpalmerr/fanout/internal/poller"
)

// dnsCacheSize bounds the engine host cache when dns_cache_ttl is set.
const dnsCacheSize = 1024

// ClientOptions returns the client defaults a batch asks for.
func ClientOptions(cfg *Config) []fanout.Option {
	opts := []fanout.Option{
		fanout.WithConcurrency(cfg.Concurrency),
		fanout.WithTimeout(cfg.Timeout.Duration()),
		fanout.WithProxy(cfg.Proxy),
		fanout.WithMaxRedirects(cfg.MaxRedirects),
		fanout.WithDebug(cfg.Debug),
		fanout.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	}
	if ttl := cfg.DNSCacheTTL.Duration(); ttl > 0 {
		opts = append(opts, fanout.WithEngineOptions(engine.WithDNSCache(dnsCacheSize, ttl)))
	}
	return opts
}

// BuildJobs converts requests and expanded grids into scheduler jobs, in
// file order with grids after requests. Names must be unique across both.
func BuildJobs(cfg *Config) ([]poller.Job, error) {
	var jobs []poller.Job

	for _, rc := range cfg.Requests {
		j, err := buildJob(rc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	for _, gc := range cfg.Grids {
		expanded, err := buildGridJobs(gc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, expanded...)
	}

	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("duplicate request name %q", j.Name)
		}
		seen[j.Name] = struct{}{}
	}
	return jobs, nil
}

func buildJob(rc RequestConfig) (poller.Job, error) {
	msg := fanout.Message{
		Method: rc.Method,
		URL:    rc.URL,
		Body:   []byte(rc.Body),
	}
	if len(rc.Headers) > 0 {
		msg.Header = make(http.Header, len(rc.Headers))
		for k, v := range rc.Headers {
			msg.Header.Set(k, v)
		}
	}

	var opts []fanout.RequestOption
	if rc.Timeout != nil {
		opts = append(opts, fanout.WithRequestTimeout(rc.Timeout.Duration()))
	}
	if rc.MaxRedirects != nil {
		opts = append(opts, fanout.WithRequestMaxRedirects(*rc.MaxRedirects))
	}
	if rc.Proxy != nil {
		opts = append(opts, fanout.WithRequestProxy(*rc.Proxy))
	}

	classify, err := buildClassifier(rc.Status)
	if err != nil {
		return poller.Job{}, fmt.Errorf("request %q: %w", rc.Name, err)
	}

	return poller.Job{
		Name:     rc.Name,
		Request:  msg,
		Options:  opts,
		Labels:   copyMap(rc.Labels),
		Interval: rc.Interval.Duration(),
		Classify: classify,
	}, nil
}

// buildGridJobs expands a grid via cartesian product of its dimensions.
func buildGridJobs(gc GridConfig) ([]poller.Job, error) {
	// missingkey=error fails fast on template variables with no dimension
	tmpl, err := template.New("url").Option("missingkey=error").Parse(gc.URLTemplate)
	if err != nil {
		return nil, err
	}

	var jobs []poller.Job
	for _, combo := range cartesianProduct(gc.Dimensions) {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, combo); err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: template execution failed: %w", gc.Name, combo, err)
		}
		url := buf.String()
		if err := validateURL(url); err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: %w", gc.Name, combo, err)
		}

		labels := copyMap(gc.Labels)
		if labels == nil {
			labels = make(map[string]string, len(combo))
		}
		for k, v := range combo {
			labels[k] = v
		}

		j, err := buildJob(RequestConfig{
			Name:         gridName(gc.Name, combo),
			URL:          url,
			Method:       gc.Method,
			Headers:      gc.Headers,
			Body:         gc.Body,
			Timeout:      gc.Timeout,
			MaxRedirects: gc.MaxRedirects,
			Proxy:        gc.Proxy,
			Interval:     gc.Interval,
			Labels:       labels,
			Status:       gc.Status,
		})
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// gridName appends the combination values in key order to base.
func gridName(base string, combo map[string]string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, k := range sortedKeys(combo) {
		b.WriteByte(' ')
		b.WriteString(combo[k])
	}
	return b.String()
}

// cartesianProduct returns every combination of dimension values, ordered
// by sorted dimension key then value order.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	result := []map[string]string{{}}
	for _, key := range sortedKeys(dimensions) {
		next := make([]map[string]string, 0, len(result)*len(dimensions[key]))
		for _, combo := range result {
			for _, val := range dimensions[key] {
				c := copyMap(combo)
				if c == nil {
					c = make(map[string]string, 1)
				}
				c[key] = val
				next = append(next, c)
			}
		}
		result = next
	}
	return result
}

func buildClassifier(sc StatusConfig) (poller.Classifier, error) {
	switch sc.Type {
	case "", "default":
		// nil selects poller.DefaultClassifier
		return nil, nil
	case "http":
		return poller.ByStatusCode, nil
	case "json":
		return poller.JSONField(sc.Path), nil
	case "contains":
		return poller.Contains(sc.Text), nil
	case "regex":
		return poller.Regex(sc.Pattern, sc.Match)
	}
	return nil, fmt.Errorf("unknown status type %q", sc.Type)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
