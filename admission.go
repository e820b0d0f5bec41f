package fanout

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jpalmerr/fanout/engine"
)

// Request submits req and returns its handle. The request starts at once if
// a concurrency slot is free and otherwise waits behind earlier requests.
// Transfer settings are resolved now from opts and the client defaults.
//
// The outcome arrives later through exactly one response or error event,
// unless the request is canceled. If the engine rejects the transfer, the
// error event fires before Request returns, so the returned handle is
// already [Handle.Done] and listeners run before the caller sees it. Key
// listener state off the [Request] value passed to the event, not the handle.
//
// Returns an error wrapping [ErrUnsupportedRequest] if req cannot be sent,
// [ErrClientClosed] after Close, or an option validation error.
func (c *Client) Request(req Request, opts ...RequestOption) (*Handle, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrUnsupportedRequest)
	}
	desc, err := req.describe()
	if err != nil {
		return nil, err
	}

	var ro requestOptions
	for _, opt := range opts {
		if err := opt(&ro); err != nil {
			return nil, err
		}
	}

	st := &requestState{
		id:       uuid.New(),
		req:      req,
		listener: ro.listener,
	}
	st.transfer = engine.NewTransfer(st.id, buildSettings(desc, c.defaults, ro), &st.body, &st.header)
	st.handle = &Handle{id: st.id, req: req, state: st}

	c.enqueue(st)
	c.admit()
	return st.handle, nil
}

// enqueue appends st to the pending queue.
func (c *Client) enqueue(st *requestState) {
	c.pending.Add(st)
	c.metrics.setQueue(len(c.active), c.pending.Length())
}

// admit moves pending requests into the engine while capacity allows.
// A request the engine rejects is reported as an error and admission
// carries on with the next one.
func (c *Client) admit() {
	admitted := false
	for !c.closed && c.pending.Length() > 0 && (c.limit == 0 || len(c.active) < c.limit) {
		st := c.pending.Remove().(*requestState)
		if err := c.multi.Add(st.transfer); err != nil {
			st.finalize()
			c.metrics.setQueue(len(c.active), c.pending.Length())
			c.logger.Warn("transfer rejected by engine",
				"transfer_id", st.id,
				"url", st.transfer.Settings.URL,
				"error", err,
			)
			c.metrics.finished(Stats{}, true)
			c.emitError(st, fmt.Errorf("register transfer: %w", err), Stats{})
			continue
		}

		st.admitted = true
		c.active[st.id] = st
		admitted = true
		c.logger.Debug("transfer admitted",
			"transfer_id", st.id,
			"url", st.transfer.Settings.URL,
			"admitted", len(c.active),
			"pending", c.pending.Length(),
		)
	}
	c.metrics.setQueue(len(c.active), c.pending.Length())

	if admitted {
		c.acquire()
	}
}

// removePending drops st from the pending queue, keeping the order of the
// remaining entries.
func (c *Client) removePending(st *requestState) bool {
	found := false
	for i, n := 0, c.pending.Length(); i < n; i++ {
		cur := c.pending.Remove().(*requestState)
		if cur == st {
			found = true
			continue
		}
		c.pending.Add(cur)
	}
	return found
}
