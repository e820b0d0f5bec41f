package poller

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Status is the health of a job derived from its latest response.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusUnknown  Status = "unknown"
)

// Classifier derives a [Status] from a finished response. It returns
// [StatusUnknown] when it cannot decide.
type Classifier func(body []byte, statusCode int) Status

// ByStatusCode classifies 2xx as up, 4xx as degraded and everything else as
// down.
func ByStatusCode(_ []byte, statusCode int) Status {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusUp
	case statusCode >= 400 && statusCode < 500:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// JSONField reads a dot-separated path from a JSON body and maps common
// health words onto a [Status].
func JSONField(path string) Classifier {
	keys := strings.Split(path, ".")
	return func(body []byte, _ int) Status {
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return StatusUnknown
		}
		for _, k := range keys {
			obj, ok := doc.(map[string]any)
			if !ok {
				return StatusUnknown
			}
			if doc, ok = obj[k]; !ok {
				return StatusUnknown
			}
		}

		var word string
		switch v := doc.(type) {
		case string:
			word = v
		case bool:
			word = strconv.FormatBool(v)
		case float64:
			switch v {
			case 0:
				word = "false"
			case 1:
				word = "true"
			default:
				word = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if word == "" {
			return StatusUnknown
		}
		return healthWord(strings.ToLower(word))
	}
}

func healthWord(s string) Status {
	switch s {
	case "ok", "healthy", "up", "active", "running", "pass", "passed", "true", "green", "none", "operational":
		return StatusUp
	case "degraded", "warning", "partial", "yellow", "amber":
		return StatusDegraded
	}
	return StatusDown
}

// Contains reports up when the body contains text, ignoring case.
func Contains(text string) Classifier {
	needle := strings.ToLower(text)
	return func(body []byte, _ int) Status {
		if strings.Contains(strings.ToLower(string(body)), needle) {
			return StatusUp
		}
		return StatusDown
	}
}

// Regex matches pattern against the body and compares the first capture
// group to upMatch, ignoring case. No match is unknown.
func Regex(pattern, upMatch string) (Classifier, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q needs a capture group", pattern)
	}
	return func(body []byte, _ int) Status {
		m := re.FindSubmatch(body)
		if m == nil {
			return StatusUnknown
		}
		if strings.EqualFold(string(m[1]), upMatch) {
			return StatusUp
		}
		return StatusDown
	}, nil
}

// FirstMatch returns the first status from classifiers that is not unknown.
func FirstMatch(classifiers ...Classifier) Classifier {
	return func(body []byte, statusCode int) Status {
		for _, c := range classifiers {
			if s := c(body, statusCode); s != StatusUnknown {
				return s
			}
		}
		return StatusUnknown
	}
}

// DefaultClassifier tries a top-level "status" JSON field, then the status
// code.
var DefaultClassifier = FirstMatch(JSONField("status"), ByStatusCode)
