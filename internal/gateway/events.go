package gateway

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/model"
)

// clientEvent is the wire shape of every client-sent frame.
type clientEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`
}

// handleEvent dispatches one client frame. Returns true when the error
// policy requires terminating the socket.
func (g *Gateway) handleEvent(c *client, raw []byte) (terminal bool) {
	var ev clientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return g.sendError(c, errs.Validation("malformed event"))
	}

	ctx, cancel := context.WithTimeout(g.ctx, 10*time.Second)
	defer cancel()

	var err error
	switch ev.Type {
	case "join_room":
		err = g.onJoinRoom(ctx, c, ev.RoomID)
	case "leave_room":
		err = g.onLeaveRoom(ctx, c, ev.RoomID)
	case "typing":
		err = g.onTyping(ctx, c, ev.RoomID, ev.IsTyping)
	case "send_message":
		err = g.onSendMessage(ctx, c, ev.RoomID, ev.Body)
	case "read_receipt":
		err = g.onReadReceipt(ctx, c, ev.RoomID, ev.MessageID)
	case "pong":
		g.heartbeat(c)
	default:
		err = errs.Validation("unknown event type")
	}

	if err != nil {
		return g.sendError(c, err)
	}
	return false
}

// onJoinRoom subscribes the socket to a room it is a member of.
func (g *Gateway) onJoinRoom(ctx context.Context, c *client, roomID string) error {
	if roomID == "" {
		return errs.Validation("roomId is required")
	}
	member, err := g.rooms.IsMember(ctx, roomID, c.user.ID)
	if err != nil {
		return errs.Internal("membership lookup", err)
	}
	if !member {
		return errs.Forbidden("not a member of this room")
	}
	g.subscribe(ctx, c, roomID)
	return nil
}

// onLeaveRoom unsubscribes the socket. No membership check; leaving a
// channel is always allowed.
func (g *Gateway) onLeaveRoom(ctx context.Context, c *client, roomID string) error {
	if roomID == "" {
		return errs.Validation("roomId is required")
	}
	g.index.remove(roomID, c)
	c.leaveRoom(roomID)
	if err := g.presence.RemoveFromRoom(ctx, c.user.ID, roomID); err != nil {
		g.logger.Warn().Str("user_id", c.user.ID).Str("room_id", roomID).Err(err).Msg("removeFromRoom failed")
	}
	g.broadcastPresence(roomID, c.user.ID, model.PresenceOffline)
	return nil
}

// onTyping broadcasts a typing indicator. A started indicator clears
// itself after three seconds unless the client clears it first.
func (g *Gateway) onTyping(ctx context.Context, c *client, roomID string, isTyping bool) error {
	if roomID == "" {
		return errs.Validation("roomId is required")
	}
	if !c.inRoom(roomID) {
		return errs.Forbidden("not joined to this room")
	}

	if isTyping {
		g.typing.started(roomID, c.user.ID)
	} else {
		g.typing.stopped(roomID, c.user.ID)
	}
	g.broadcast(roomID, "typing", serverEvent{
		Type:     "typing",
		RoomID:   roomID,
		UserID:   c.user.ID,
		IsTyping: boolPtr(isTyping),
	})
	return nil
}

// onSendMessage delegates to the message service; the service emits
// message_created through the Events hook on success.
func (g *Gateway) onSendMessage(ctx context.Context, c *client, roomID, body string) error {
	if roomID == "" {
		return errs.Validation("roomId is required")
	}
	_, err := g.messages.Send(ctx, c.user, roomID, body, remoteHost(c))
	return err
}

// onReadReceipt stamps the membership and broadcasts the receipt. An
// absent messageId reads as "latest".
func (g *Gateway) onReadReceipt(ctx context.Context, c *client, roomID, messageID string) error {
	if roomID == "" {
		return errs.Validation("roomId is required")
	}
	if err := g.rooms.MarkRead(ctx, c.user, roomID, messageID); err != nil {
		return err
	}

	id := messageID
	if id == "" {
		id = "latest"
	}
	readAt := g.now().UTC()
	g.broadcast(roomID, "read_receipt", serverEvent{
		Type:      "read_receipt",
		RoomID:    roomID,
		UserID:    c.user.ID,
		MessageID: id,
		ReadAt:    &readAt,
	})
	return nil
}

// remoteHost extracts the socket's remote host for IP rate limiting.
func remoteHost(c *client) string {
	if c.conn == nil {
		return ""
	}
	addr := c.conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
