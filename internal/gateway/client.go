package gateway

import (
	"net"
	"sync"

	"github.com/parleychat/parley/internal/model"
)

// sendBufferSize is the per-client outgoing queue. A full queue marks
// the client slow; the event is dropped rather than blocking the
// broadcast path.
const sendBufferSize = 256

// client is one authenticated socket.
type client struct {
	id        int64
	socketID  string
	user      *model.User
	conn      net.Conn
	send      chan []byte
	closeOnce sync.Once

	// rooms the socket has joined, guarded by mu. The authoritative
	// membership lives in the document store; this set only tracks which
	// channels this socket subscribed to.
	mu    sync.Mutex
	rooms map[string]struct{}
}

func newClient(id int64, socketID string, user *model.User, conn net.Conn) *client {
	return &client{
		id:       id,
		socketID: socketID,
		user:     user,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[string]struct{}),
	}
}

func (c *client) joinRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *client) leaveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *client) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// joinedRooms returns a copy of the socket's room set.
func (c *client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// enqueue offers data to the client without blocking. Returns false
// when the send buffer is full.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the underlying connection exactly once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
