package fanout

// Cancel stops the request behind h without firing any event. A waiting
// request leaves the queue; a running one is removed from the engine and
// never reports. The freed slot goes to the next waiting request.
//
// Returns [ErrInvalidHandle] if h is nil or its request already finished
// or was canceled.
func (c *Client) Cancel(h *Handle) error {
	if h == nil || h.state == nil {
		return ErrInvalidHandle
	}
	st := h.state

	if st.admitted {
		if err := c.multi.Remove(st.transfer); err != nil {
			c.logger.Warn("failed to remove canceled transfer", "transfer_id", st.id, "error", err)
		}
		delete(c.active, st.id)
	} else if !c.removePending(st) {
		return ErrInvalidHandle
	}

	st.finalize()
	c.metrics.cancel()
	c.logger.Debug("request canceled", "transfer_id", st.id, "url", st.transfer.Settings.URL)

	c.admit()
	if len(c.active) == 0 {
		c.release()
	}
	c.metrics.setQueue(len(c.active), c.pending.Length())
	return nil
}
