package engine

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyAdded is returned by Add for a transfer that is already registered.
	ErrAlreadyAdded = errors.New("engine: transfer already added")

	// ErrNotAdded is returned by Remove for a transfer that is not registered.
	ErrNotAdded = errors.New("engine: transfer not added")

	// ErrClosed is returned by operations on a closed multi handle.
	ErrClosed = errors.New("engine: multi handle closed")

	// ErrTimeout reports that a transfer exceeded its configured timeout.
	ErrTimeout = errors.New("engine: operation timed out")

	// ErrTooManyRedirects reports that a transfer hit its redirect cap.
	ErrTooManyRedirects = errors.New("engine: too many redirects")

	// ErrUnsupportedPlatform is returned where no wake descriptor can be created.
	ErrUnsupportedPlatform = errors.New("engine: platform not supported")
)

// Settings are the engine-native options of a single transfer.
type Settings struct {
	// URL is the absolute target address.
	URL string

	// Method is the request method. Empty means GET.
	Method string

	// Header holds raw "Key: Value" lines. A line with an empty value
	// ("Key:") removes a header the engine would otherwise send.
	Header []string

	// Body is sent with an explicit Content-Length when non-empty.
	Body []byte

	// Decode enables transparent content decoding (gzip, deflate, zstd).
	Decode bool

	// Verbose logs every hop of the transfer at debug level.
	Verbose bool

	// Proxy is an http, https, socks5 or socks5h proxy URL.
	Proxy string

	// Timeout bounds the whole transfer, redirects included. Zero means none.
	Timeout time.Duration

	// FollowRedirects enables redirect following up to MaxRedirects hops.
	FollowRedirects bool
	MaxRedirects    int

	// InsecureSkipVerify disables TLS peer verification.
	InsecureSkipVerify bool
}

// Transfer is one request registered with a [Multi]. Body and Header are the
// sinks that receive the response body and the raw header blocks.
type Transfer struct {
	ID       uuid.UUID
	Settings Settings
	Body     io.Writer
	Header   io.Writer
}

// NewTransfer creates a transfer with the given correlation id and sinks.
// Nil sinks discard their output.
func NewTransfer(id uuid.UUID, s Settings, body, header io.Writer) *Transfer {
	if body == nil {
		body = io.Discard
	}
	if header == nil {
		header = io.Discard
	}
	return &Transfer{ID: id, Settings: s, Body: body, Header: header}
}

// Result is a finished transfer drained from [Multi.InfoRead].
// Err is nil on success and carries the engine diagnostic otherwise.
type Result struct {
	ID  uuid.UUID
	Err error
}

// Info is the per-transfer timing and byte count introspection.
type Info struct {
	Total         time.Duration
	NameLookup    time.Duration
	Connect       time.Duration
	StartTransfer time.Duration
	Downloaded    int64
	Uploaded      int64
}

// FDSet holds the descriptors the engine is currently interested in.
type FDSet struct {
	Read   []int
	Write  []int
	Except []int
}

// Multi is the transfer engine boundary.
//
// Implementations are driven from a single goroutine; none of the methods
// need to be safe for concurrent use.
type Multi interface {
	// Add registers a transfer. It starts no later than the next Perform.
	Add(t *Transfer) error

	// Remove deregisters a transfer. A removed transfer never appears in
	// InfoRead, even if it finished before Remove was called.
	Remove(t *Transfer) error

	// Perform advances every registered transfer one step and returns the
	// number still active.
	Perform() (running int, err error)

	// FDSet reports the descriptors of current interest.
	FDSet() FDSet

	// InfoRead drains one finished transfer, in completion order.
	InfoRead() (Result, bool)

	// Info returns the timing and byte counts of a registered transfer.
	Info(id uuid.UUID) Info

	// Close releases the multi handle and aborts every registered transfer.
	Close() error
}
