package matcher

import "sync"

// mailbox is a single-slot handoff from the fast path to the reconciliation
// goroutine. A newer deposit replaces one that has not been taken yet.
type mailbox struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    *WorkItem
	closed     bool
	superseded uint64
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put deposits w and wakes the consumer. It reports false once closed.
func (m *mailbox) put(w WorkItem) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.pending != nil {
		m.superseded++
	}
	m.pending = &w
	m.cond.Signal()
	return true
}

// take waits for work. It reports false once the mailbox is closed.
func (m *mailbox) take() (WorkItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return WorkItem{}, false
	}
	w := *m.pending
	m.pending = nil
	return w, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *mailbox) supersededCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.superseded
}
