package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory [Store] that also satisfies [Recorder].
//
// Results are keyed by job name; a newer result replaces the previous one.
// Subscribers get buffered channels and updates are sent non-blocking, so a
// full subscriber drops updates instead of stalling the caller.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]Result
	total   int

	subMu       sync.RWMutex
	subscribers map[chan Result]struct{}
}

// NewMemoryStore creates an empty [MemoryStore].
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:     make(map[string]Result),
		subscribers: make(map[chan Result]struct{}),
	}
}

// Update stores result and notifies all subscribers.
//
// The result is keyed by its Name; a later result with the same name
// replaces the earlier one. Subscribers whose buffer is full miss the update.
func (m *MemoryStore) Update(result Result) {
	m.mu.Lock()
	m.results[result.Name] = result
	m.total++
	m.mu.Unlock()

	m.notifySubscribers(result)
}

// Record implements [Recorder]. It never fails.
func (m *MemoryStore) Record(result Result) error {
	m.Update(result)
	return nil
}

// GetAll returns a snapshot of the latest result per job, sorted by name.
//
// The returned slice is a copy; callers may modify it freely.
func (m *MemoryStore) GetAll() []Result {
	m.mu.RLock()
	results := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		results = append(results, r)
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Total returns how many results have been recorded, including replaced ones.
func (m *MemoryStore) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Subscribe registers a new subscriber and returns its channel.
//
// The channel is buffered (100 updates) and receives every result passed to
// [MemoryStore.Update] after this call. Callers must call
// [MemoryStore.Unsubscribe] when done to release the channel.
func (m *MemoryStore) Subscribe() <-chan Result {
	ch := make(chan Result, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed channels are ignored.
func (m *MemoryStore) Unsubscribe(ch <-chan Result) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			return
		}
	}
}

func (m *MemoryStore) notifySubscribers(result Result) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- result:
		default:
			// slow subscriber
		}
	}
}
