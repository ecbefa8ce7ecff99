package gateway

import (
	"sync"
	"sync/atomic"
)

// roomIndex maps room channels to their subscribed clients. Broadcasts
// read lock-free immutable snapshots; joins and leaves copy-on-write
// under the lock. One channel per room, so the broadcast path never
// iterates clients that are not in the room.
type roomIndex struct {
	subscribers map[string]*atomic.Value // roomID -> []*client snapshot
	mu          sync.RWMutex             // guards the map, not the snapshots
}

func newRoomIndex() *roomIndex {
	return &roomIndex{subscribers: make(map[string]*atomic.Value)}
}

// add registers c as a subscriber of roomID.
func (idx *roomIndex) add(roomID string, c *client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val := idx.subscribers[roomID]
	if val == nil {
		val = &atomic.Value{}
		idx.subscribers[roomID] = val
	}

	var current []*client
	if v := val.Load(); v != nil {
		current = v.([]*client)
	}
	for _, existing := range current {
		if existing == c {
			return
		}
	}

	next := make([]*client, len(current)+1)
	copy(next, current)
	next[len(current)] = c
	val.Store(next)
}

// remove unregisters c from roomID.
func (idx *roomIndex) remove(roomID string, c *client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(roomID, c)
}

func (idx *roomIndex) removeLocked(roomID string, c *client) {
	val, ok := idx.subscribers[roomID]
	if !ok {
		return
	}
	v := val.Load()
	if v == nil {
		return
	}
	current := v.([]*client)

	for i, existing := range current {
		if existing == c {
			next := make([]*client, len(current)-1)
			copy(next, current[:i])
			copy(next[i:], current[i+1:])
			if len(next) == 0 {
				delete(idx.subscribers, roomID)
			} else {
				val.Store(next)
			}
			return
		}
	}
}

// removeAll unregisters c from every room. Called on disconnect.
func (idx *roomIndex) removeAll(c *client) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for roomID := range idx.subscribers {
		idx.removeLocked(roomID, c)
	}
}

// get returns the immutable subscriber snapshot for roomID. Safe to
// iterate, must not be modified.
func (idx *roomIndex) get(roomID string) []*client {
	idx.mu.RLock()
	val, ok := idx.subscribers[roomID]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	v := val.Load()
	if v == nil {
		return nil
	}
	return v.([]*client)
}

// count returns the number of subscribers of roomID.
func (idx *roomIndex) count(roomID string) int {
	return len(idx.get(roomID))
}
