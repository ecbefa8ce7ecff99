package gateway

import (
	"sync"
	"time"
)

// typingClearAfter is how long a typing indicator lives without an
// explicit clear.
const typingClearAfter = 3 * time.Second

// typingTracker owns the per-(room, user) auto-clear timers. A new
// typing event supersedes any pending timer for the same pair.
type typingTracker struct {
	mu     sync.Mutex
	timers map[typingKey]*time.Timer
	expire func(roomID, userID string)
	after  time.Duration
}

type typingKey struct {
	roomID string
	userID string
}

// newTypingTracker creates a tracker that calls expire when a typing
// indicator times out.
func newTypingTracker(expire func(roomID, userID string)) *typingTracker {
	return &typingTracker{
		timers: make(map[typingKey]*time.Timer),
		expire: expire,
		after:  typingClearAfter,
	}
}

// started schedules the auto-clear for (roomID, userID), cancelling any
// timer it supersedes.
func (t *typingTracker) started(roomID, userID string) {
	key := typingKey{roomID: roomID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	t.timers[key] = time.AfterFunc(t.after, func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		t.expire(roomID, userID)
	})
}

// stopped cancels the pending auto-clear for (roomID, userID). Returns
// true when a timer was live.
func (t *typingTracker) stopped(roomID, userID string) bool {
	key := typingKey{roomID: roomID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// stopUser cancels every pending timer for userID. Called on disconnect
// so a vanished socket does not fire stale clears.
func (t *typingTracker) stopUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		if key.userID == userID {
			timer.Stop()
			delete(t.timers, key)
		}
	}
}

// active reports whether a timer is pending for (roomID, userID).
func (t *typingTracker) active(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[typingKey{roomID: roomID, userID: userID}]
	return ok
}
