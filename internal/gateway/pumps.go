package gateway

import (
	"bufio"
	"context"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/presence"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 5 * time.Second

	// pongWait is how long the read side tolerates silence. A peer
	// answering pings keeps the deadline moving.
	pongWait = 30 * time.Second

	// pingPeriod paces server pings; matches the presence heartbeat so
	// each answered ping refreshes the presence blob in time.
	pingPeriod = presence.HeartbeatInterval
)

// readPump consumes frames from one socket until it errors or closes.
func (g *Gateway) readPump(c *client) {
	defer logging.RecoverPanic(g.logger, "readPump", map[string]any{"client_id": c.id})

	reason := "read_error"
	defer func() {
		g.disconnect(c, reason)
	}()

	c.conn.SetReadDeadline(g.now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(g.now().Add(pongWait))

		switch op {
		case ws.OpText:
			if terminal := g.handleEvent(c, msg); terminal {
				reason = "policy"
				return
			}
		case ws.OpPong:
			g.heartbeat(c)
		case ws.OpClose:
			reason = "client_close"
			return
		}
	}
}

// writePump drains the send queue, batching pending frames behind one
// flush, and paces pings.
func (g *Gateway) writePump(c *client) {
	defer logging.RecoverPanic(g.logger, "writePump", map[string]any{"client_id": c.id})

	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
				return
			}
			c.conn.SetWriteDeadline(g.now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, data); err != nil {
				g.logger.Debug().Int64("client_id", c.id).Err(err).Msg("Write failed")
				return
			}

			// Batch whatever else is queued before flushing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				data = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, data); err != nil {
					g.logger.Debug().Int64("client_id", c.id).Err(err).Msg("Write failed")
					return
				}
			}
			if err := writer.Flush(); err != nil {
				g.logger.Debug().Int64("client_id", c.id).Err(err).Msg("Flush failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(g.now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				g.logger.Debug().Int64("client_id", c.id).Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// heartbeat refreshes the presence blob for a live socket.
func (g *Gateway) heartbeat(c *client) {
	ctx, cancel := context.WithTimeout(g.ctx, 5*time.Second)
	defer cancel()
	if err := g.presence.Heartbeat(ctx, c.user.ID); err != nil {
		g.logger.Debug().Str("user_id", c.user.ID).Err(err).Msg("Heartbeat refresh failed")
	}
}
