package fanout

import "errors"

var (
	// ErrInvalidHandle is returned by [Client.Cancel] for a nil handle or one
	// whose request already finished or was canceled.
	ErrInvalidHandle = errors.New("invalid request handle")

	// ErrUnsupportedRequest is returned by [Client.Request] when the request
	// cannot be turned into a transfer.
	ErrUnsupportedRequest = errors.New("unsupported request")

	// ErrClientClosed is returned when submitting to a closed [Client].
	ErrClientClosed = errors.New("client closed")

	// ErrMalformedResponse is reported through the error event when the
	// accumulated header text cannot be parsed.
	ErrMalformedResponse = errors.New("malformed response")
)
