package session

import "sync"

// channelState is one channel's history and pending-lookup flag. Its mutex is
// never held across a model call.
type channelState struct {
	mu      sync.Mutex
	history []Message
	pending string
}

// entry is a doubly linked list node in the channel table.
type entry struct {
	key   string
	state *channelState
	prev  *entry
	next  *entry
}

// channelTable holds per-channel state, evicting the least recently active
// channel once capacity is reached. O(1) acquire and evict.
type channelTable struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry
	head     *entry // most recently used (sentinel)
	tail     *entry // least recently used (sentinel)
}

func newChannelTable(capacity int) *channelTable {
	if capacity < 1 {
		capacity = 1
	}
	head := &entry{}
	tail := &entry{}
	head.next = tail
	tail.prev = head
	return &channelTable{
		capacity: capacity,
		items:    make(map[string]*entry, capacity),
		head:     head,
		tail:     tail,
	}
}

// acquire returns the state for key, creating it if needed, and marks it most
// recently used. It reports the evicted channel, if any.
func (t *channelTable) acquire(key string) (*channelState, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.items[key]; ok {
		t.moveToFront(e)
		return e.state, "", false
	}

	var evicted string
	didEvict := false
	if len(t.items) >= t.capacity {
		victim := t.tail.prev
		t.remove(victim)
		delete(t.items, victim.key)
		evicted, didEvict = victim.key, true
	}

	e := &entry{key: key, state: &channelState{}}
	t.items[key] = e
	t.pushFront(e)
	return e.state, evicted, didEvict
}

// peek returns the state for key without changing recency.
func (t *channelTable) peek(key string) (*channelState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[key]
	if !ok {
		return nil, false
	}
	return e.state, true
}

func (t *channelTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// --- list operations (caller holds t.mu) ---

func (t *channelTable) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}

func (t *channelTable) pushFront(e *entry) {
	e.next = t.head.next
	e.prev = t.head
	t.head.next.prev = e
	t.head.next = e
}

func (t *channelTable) moveToFront(e *entry) {
	t.remove(e)
	t.pushFront(e)
}
