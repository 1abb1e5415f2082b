package session

import (
	"sort"
	"sync"
	"time"
)

// pendingSync tracks one sync request awaiting its done event.
type pendingSync struct {
	CallbackID uint32
	IssuedAt   time.Time
	done       chan uint32
}

// syncTable stores in-flight syncs by callback id. Each id has at most one
// waiter; a fresh id is allocated per sync call.
type syncTable struct {
	mu    sync.Mutex
	items map[uint32]*pendingSync
}

func newSyncTable() *syncTable {
	return &syncTable{items: make(map[uint32]*pendingSync)}
}

func (t *syncTable) add(id uint32, at time.Time) *pendingSync {
	p := &pendingSync{CallbackID: id, IssuedAt: at, done: make(chan uint32, 1)}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[id] = p
	return p
}

// resolve delivers data to the waiter for id and removes it.
func (t *syncTable) resolve(id, data uint32) (*pendingSync, bool) {
	t.mu.Lock()
	p, ok := t.items[id]
	delete(t.items, id)
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	p.done <- data
	return p, true
}

func (t *syncTable) remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, id)
}

// drain empties the table. Waiters observe closure through the
// connection's done channel.
func (t *syncTable) drain() []pendingSync {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pendingSync, 0, len(t.items))
	for id, p := range t.items {
		out = append(out, pendingSync{CallbackID: p.CallbackID, IssuedAt: p.IssuedAt})
		delete(t.items, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CallbackID < out[j].CallbackID
	})
	return out
}

func (t *syncTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
