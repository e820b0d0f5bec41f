package store

import (
	"time"

	"go.uber.org/multierr"
)

// Result is the stored outcome of one finished request.
type Result struct {
	// Name identifies the job that produced the request.
	Name string `json:"name"`

	Method string `json:"method"`
	URL    string `json:"url"`

	// StatusCode is zero when the request failed before a response.
	StatusCode int `json:"status_code"`

	// Status is "up", "degraded" or "down".
	Status string `json:"status"`

	Labels map[string]string `json:"labels"`

	// Error is nil when the request produced a response.
	Error *string `json:"error"`

	ResponseTimeMs  int64 `json:"response_time_ms"`
	NameLookupMs    int64 `json:"name_lookup_ms"`
	ConnectMs       int64 `json:"connect_ms"`
	FirstByteMs     int64 `json:"first_byte_ms"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
	UploadedBytes   int64 `json:"uploaded_bytes"`

	CompletedAt time.Time `json:"completed_at"`
}

// Store keeps the latest result per job and publishes every update.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a result keyed by Name and notifies all subscribers.
	Update(result Result)

	// GetAll returns a snapshot of the stored results, sorted by name.
	GetAll() []Result

	// Subscribe returns a buffered channel of updates. Slow consumers miss
	// updates. Callers must Unsubscribe when done.
	Subscribe() <-chan Result

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(ch <-chan Result)
}

// Recorder persists finished results.
type Recorder interface {
	Record(result Result) error
}

// RecorderFunc adapts a function to [Recorder].
type RecorderFunc func(Result) error

// Record calls f(result).
func (f RecorderFunc) Record(result Result) error { return f(result) }

// Tee returns a [Recorder] that hands each result to every recorder in
// order. Nil recorders are skipped. All recorders see the result even when
// an earlier one fails; the errors are combined.
func Tee(recorders ...Recorder) Recorder {
	kept := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return tee(kept)
}

type tee []Recorder

func (t tee) Record(result Result) error {
	var err error
	for _, r := range t {
		err = multierr.Append(err, r.Record(result))
	}
	return err
}
