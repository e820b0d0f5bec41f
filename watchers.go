package fanout

import (
	"sort"

	"github.com/jpalmerr/fanout/engine"
	"github.com/jpalmerr/fanout/loop"
)

// watch is one registered descriptor watcher.
type watch struct {
	dir loop.Direction
	w   loop.Watcher
}

// desiredWatches merges the engine interest sets into one direction per
// descriptor. Exception interest is watched as readability, which is how
// pollers surface error conditions.
func desiredWatches(fds engine.FDSet) map[int]loop.Direction {
	want := make(map[int]loop.Direction, len(fds.Read)+len(fds.Write))
	for _, fd := range fds.Read {
		want[fd] |= loop.Read
	}
	for _, fd := range fds.Except {
		want[fd] |= loop.Read
	}
	for _, fd := range fds.Write {
		want[fd] |= loop.Write
	}
	return want
}

// reconcile makes the watcher table match fds. Stale watchers, including
// ones whose direction changed, are closed before new ones are registered;
// matching watchers are kept.
func (c *Client) reconcile(fds engine.FDSet) {
	want := desiredWatches(fds)

	for fd, w := range c.watchers {
		if dir, ok := want[fd]; ok && dir == w.dir {
			continue
		}
		c.closeWatch(fd, w)
	}

	added := make([]int, 0, len(want))
	for fd := range want {
		if _, ok := c.watchers[fd]; !ok {
			added = append(added, fd)
		}
	}
	sort.Ints(added)

	for _, fd := range added {
		dir := want[fd]
		w, err := c.host.Watch(fd, dir, func(loop.Direction) { c.step() })
		if err != nil {
			// the fallback timer keeps the transfer moving
			c.logger.Warn("failed to watch descriptor", "fd", fd, "direction", dir.String(), "error", err)
			continue
		}
		c.watchers[fd] = &watch{dir: dir, w: w}
	}
}

func (c *Client) closeWatch(fd int, w *watch) {
	if err := w.w.Close(); err != nil {
		c.logger.Warn("failed to close watcher", "fd", fd, "error", err)
	}
	delete(c.watchers, fd)
}

func (c *Client) closeWatchers() {
	for fd, w := range c.watchers {
		c.closeWatch(fd, w)
	}
}
