package firehose

import "sync"

// Capture records entries in memory instead of sending them. Every entry is
// resolved as soon as it is recorded.
type Capture struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *Capture) Enqueue(e Entry) *Pending {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
	p := newPending(e)
	p.resolve(nil)
	return p
}

// Entries returns the recorded entries in enqueue order.
func (c *Capture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Reset drops everything recorded so far.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}
