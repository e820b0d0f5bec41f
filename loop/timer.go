package loop

import (
	"container/heap"
	"time"
)

// timer is a heap entry. index is -1 while the timer is not scheduled.
type timer struct {
	l       *Loop
	when    time.Time
	period  time.Duration
	fn      func()
	seq     uint64
	index   int
	stopped bool
}

func (t *timer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	if t.index >= 0 {
		heap.Remove(&t.l.timers, t.index)
	}
}

// timerHeap orders timers by deadline, then by creation order so timers
// sharing a deadline fire in the order they were scheduled.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
