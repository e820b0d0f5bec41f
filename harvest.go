package fanout

import "fmt"

// harvest drains every finished transfer the engine reports and fires its
// terminal event. Each completion frees a slot that is refilled before the
// next one is processed.
func (c *Client) harvest() {
	for !c.closed {
		res, ok := c.multi.InfoRead()
		if !ok {
			return
		}

		st, ok := c.active[res.ID]
		if !ok {
			panic(fmt.Sprintf("fanout: engine reported transfer %s which is not admitted", res.ID))
		}

		stats := statsFromInfo(c.multi.Info(res.ID))
		if err := c.multi.Remove(st.transfer); err != nil {
			c.logger.Warn("failed to remove finished transfer", "transfer_id", st.id, "error", err)
		}
		delete(c.active, res.ID)
		st.finalize()
		c.metrics.setQueue(len(c.active), c.pending.Length())

		c.complete(st, res.Err, stats)
		c.admit()
	}
}

// complete turns one finished transfer into its response or error event.
func (c *Client) complete(st *requestState, transferErr error, stats Stats) {
	logAttrs := []any{
		"transfer_id", st.id,
		"url", st.transfer.Settings.URL,
		"latency_ms", stats.Total.Milliseconds(),
	}

	if transferErr != nil {
		c.logger.Warn("request failed", append(logAttrs, "error", transferErr.Error())...)
		c.metrics.finished(stats, true)
		c.emitError(st, transferErr, stats)
		return
	}

	resp, err := buildResponse(st.header.Bytes(), st.body.Bytes(), st.req)
	if err != nil {
		c.logger.Warn("request failed", append(logAttrs, "error", err.Error())...)
		c.metrics.finished(stats, true)
		c.emitError(st, err, stats)
		return
	}

	c.logger.Debug("request completed", append(logAttrs, "status", resp.StatusCode)...)
	c.metrics.finished(stats, false)
	c.emitResponse(st, resp, stats)
}
