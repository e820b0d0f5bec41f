package fanout

// acquire makes sure the fallback timer runs and schedules an immediate
// step so newly admitted transfers start without waiting a full tick.
func (c *Client) acquire() {
	if c.timer == nil {
		c.timer = c.host.Every(c.tick, c.step)
	}
	c.scheduleKick()
}

// scheduleKick queues one step on the next loop iteration. Repeated calls
// before it runs coalesce.
func (c *Client) scheduleKick() {
	if c.kick != nil || c.closed {
		return
	}
	c.kick = c.host.AfterFunc(0, func() {
		c.kick = nil
		c.step()
	})
}

// release stops the timer and closes every watcher. The client holds no
// loop resources afterwards until the next admission.
func (c *Client) release() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.kick != nil {
		c.kick.Stop()
		c.kick = nil
	}
	c.closeWatchers()
	c.running = 0
}

// step advances the engine once, harvests finished transfers and brings
// watchers in line with the engine's interest sets. It runs for every
// timer tick, kick and watcher fire.
func (c *Client) step() {
	if c.closed {
		return
	}
	// a listener triggered a step while one is running
	if c.stepping {
		c.scheduleKick()
		return
	}
	c.stepping = true
	defer func() { c.stepping = false }()

	running, err := c.multi.Perform()
	if err != nil {
		c.logger.Error("engine step failed", "error", err, "admitted", len(c.active))
		return
	}

	// the count can stay level when one transfer finishes as another starts
	if running != c.running || running < len(c.active) {
		c.harvest()
	}
	c.running = running

	if c.closed {
		return
	}
	if len(c.active) == 0 {
		c.release()
		return
	}
	c.reconcile(c.multi.FDSet())
}
