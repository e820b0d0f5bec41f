package fake

import (
	"github.com/google/uuid"

	"github.com/jpalmerr/fanout/engine"
)

type completion struct {
	id     uuid.UUID
	err    error
	header string
	body   string
	info   engine.Info
}

// Multi is an [engine.Multi] whose transfers finish only when told to.
type Multi struct {
	transfers map[uuid.UUID]*engine.Transfer
	finished  map[uuid.UUID]bool
	infos     map[uuid.UUID]engine.Info
	order     []uuid.UUID
	staged    []completion
	results   []engine.Result
	fds       engine.FDSet
	closed    bool

	// AddErr, when set, decides whether Add rejects a transfer.
	AddErr func(t *engine.Transfer) error

	// Added lists every accepted transfer in registration order.
	Added []*engine.Transfer

	// Removed lists the ids passed to successful Remove calls.
	Removed []uuid.UUID

	// MaxActive is the largest number of registered transfers observed.
	MaxActive int

	// PerformCalls counts progress steps.
	PerformCalls int
}

var _ engine.Multi = (*Multi)(nil)

// NewMulti returns an empty Multi.
func NewMulti() *Multi {
	return &Multi{
		transfers: make(map[uuid.UUID]*engine.Transfer),
		finished:  make(map[uuid.UUID]bool),
		infos:     make(map[uuid.UUID]engine.Info),
	}
}

// Add registers t.
func (m *Multi) Add(t *engine.Transfer) error {
	if m.closed {
		return engine.ErrClosed
	}
	if _, ok := m.transfers[t.ID]; ok {
		return engine.ErrAlreadyAdded
	}
	if m.AddErr != nil {
		if err := m.AddErr(t); err != nil {
			return err
		}
	}
	m.transfers[t.ID] = t
	m.order = append(m.order, t.ID)
	m.Added = append(m.Added, t)
	if len(m.transfers) > m.MaxActive {
		m.MaxActive = len(m.transfers)
	}
	return nil
}

// Remove unregisters t and drops anything it has not reported.
func (m *Multi) Remove(t *engine.Transfer) error {
	if _, ok := m.transfers[t.ID]; !ok {
		return engine.ErrNotAdded
	}
	delete(m.transfers, t.ID)
	delete(m.finished, t.ID)
	delete(m.infos, t.ID)
	for i, id := range m.order {
		if id == t.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	staged := m.staged[:0]
	for _, c := range m.staged {
		if c.id != t.ID {
			staged = append(staged, c)
		}
	}
	m.staged = staged

	results := m.results[:0]
	for _, r := range m.results {
		if r.ID != t.ID {
			results = append(results, r)
		}
	}
	m.results = results

	m.Removed = append(m.Removed, t.ID)
	return nil
}

// Perform delivers staged completions and returns the unfinished count.
func (m *Multi) Perform() (int, error) {
	if m.closed {
		return 0, engine.ErrClosed
	}
	m.PerformCalls++

	staged := m.staged
	m.staged = nil
	for _, c := range staged {
		t, ok := m.transfers[c.id]
		if !ok || m.finished[c.id] {
			continue
		}
		if c.header != "" {
			_, _ = t.Header.Write([]byte(c.header))
		}
		if c.body != "" {
			_, _ = t.Body.Write([]byte(c.body))
		}
		m.finished[c.id] = true
		m.infos[c.id] = c.info
		m.results = append(m.results, engine.Result{ID: c.id, Err: c.err})
	}

	return m.Running(), nil
}

// Running counts registered transfers that have not finished.
func (m *Multi) Running() int {
	n := 0
	for id := range m.transfers {
		if !m.finished[id] {
			n++
		}
	}
	return n
}

// FDSet returns the interest set configured with SetFDSet.
func (m *Multi) FDSet() engine.FDSet {
	return m.fds
}

// SetFDSet changes the interest set reported from the next step on.
func (m *Multi) SetFDSet(fds engine.FDSet) {
	m.fds = fds
}

// InfoRead pops the oldest reported result.
func (m *Multi) InfoRead() (engine.Result, bool) {
	if len(m.results) == 0 {
		return engine.Result{}, false
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, true
}

// Info returns the info staged with the transfer's completion.
func (m *Multi) Info(id uuid.UUID) engine.Info {
	return m.infos[id]
}

// Close marks the engine closed.
func (m *Multi) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Multi) Closed() bool {
	return m.closed
}

// Active returns the registered transfers in registration order.
func (m *Multi) Active() []*engine.Transfer {
	out := make([]*engine.Transfer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.transfers[id])
	}
	return out
}

// ByURL returns the registered transfer for url, or nil.
func (m *Multi) ByURL(url string) *engine.Transfer {
	for _, id := range m.order {
		if t := m.transfers[id]; t.Settings.URL == url {
			return t
		}
	}
	return nil
}

// Complete stages a finished transfer for the next Perform. header is the
// raw accumulated header text and body the response body.
func (m *Multi) Complete(id uuid.UUID, err error, header, body string, info engine.Info) {
	m.staged = append(m.staged, completion{id: id, err: err, header: header, body: body, info: info})
}

// Respond stages a successful single-block response.
func (m *Multi) Respond(id uuid.UUID, status, body string) {
	header := "HTTP/1.1 " + status + "\r\nContent-Type: text/plain\r\n\r\n"
	m.Complete(id, nil, header, body, engine.Info{Downloaded: int64(len(body))})
}

// Fail stages a failed transfer.
func (m *Multi) Fail(id uuid.UUID, err error) {
	m.Complete(id, err, "", "", engine.Info{})
}
