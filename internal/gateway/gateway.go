// Package gateway is the realtime WebSocket surface: authenticated
// socket lifecycle, channel-per-room fan-out, presence and typing
// events, heartbeat. It owns no authoritative state; presence lives in
// the keyed store and messages in the document store.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/ratelimit"
)

// Config carries the gateway's static limits.
type Config struct {
	MaxConnections     int
	MaxGoroutines      int
	CPURejectThreshold float64
}

// Gateway serves the /chat socket endpoint.
type Gateway struct {
	auth     *auth.Service
	rooms    *chat.RoomService
	messages *chat.MessageService
	presence *presence.Registry
	limiter  *ratelimit.Limiter
	guard    *guard
	logger   zerolog.Logger

	index    *roomIndex
	clients  sync.Map // *client -> struct{}
	clientID int64
	typing   *typingTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates the gateway.
func New(cfg Config, authSvc *auth.Service, rooms *chat.RoomService, messages *chat.MessageService, reg *presence.Registry, limiter *ratelimit.Limiter, logger zerolog.Logger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		auth:     authSvc,
		rooms:    rooms,
		messages: messages,
		presence: reg,
		limiter:  limiter,
		logger:   logger.With().Str("component", "gateway").Logger(),
		index:    newRoomIndex(),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
	g.guard = newGuard(guardConfig{
		MaxConnections: cfg.MaxConnections,
		MaxGoroutines:  cfg.MaxGoroutines,
		CPUThreshold:   cfg.CPURejectThreshold,
		AcceptRate:     float64(cfg.MaxConnections) / 10.0,
	}, logger)
	g.typing = newTypingTracker(g.typingExpired)
	return g
}

// Start begins background monitoring.
func (g *Gateway) Start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.guard.monitor(g.ctx)
	}()
}

// Shutdown closes every socket and stops background work.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.cancel()
	g.clients.Range(func(key, _ any) bool {
		key.(*client).close()
		return true
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn().Msg("Shutdown deadline reached with pumps still draining")
	}
}

// HandleWS upgrades an HTTP request to an authenticated socket.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if res := g.limiter.Allow(r.Context(), ratelimit.RuleWebsocketIP, clientIP); !res.Allowed {
		metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if ok, reason := g.guard.admit(); !ok {
		metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
		g.logger.Warn().Str("client_ip", clientIP).Str("reason", reason).Msg("Connection rejected")
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	raw := bearerToken(r)
	if raw == "" {
		g.guard.release()
		metrics.ConnectionsRejected.WithLabelValues("no_token").Inc()
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	user, _, err := g.auth.Authenticate(r.Context(), raw)
	if err != nil {
		g.guard.release()
		metrics.ConnectionsRejected.WithLabelValues("auth_failed").Inc()
		g.logger.Debug().Str("client_ip", clientIP).Err(err).Msg("Handshake auth failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.guard.release()
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		g.logger.Warn().Str("client_ip", clientIP).Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(atomic.AddInt64(&g.clientID, 1), uuid.NewString(), user, conn)
	g.clients.Store(c, struct{}{})
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()

	g.connect(c)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.writePump(c)
	}()
	go func() {
		defer g.wg.Done()
		g.readPump(c)
	}()

	g.logger.Info().
		Int64("client_id", c.id).
		Str("user_id", user.ID).
		Str("socket_id", c.socketID).
		Int("active", g.guard.activeConnections()).
		Msg("Client connected")
}

// connect marks the user online and auto-joins every room they belong
// to, announcing presence on each.
func (g *Gateway) connect(c *client) {
	ctx, cancelCtx := context.WithTimeout(g.ctx, 10*time.Second)
	defer cancelCtx()

	if err := g.presence.SetOnline(ctx, c.user.ID, c.socketID); err != nil {
		g.logger.Warn().Str("user_id", c.user.ID).Err(err).Msg("setOnline failed")
	}

	roomIDs, err := g.rooms.RoomIDsOf(ctx, c.user.ID)
	if err != nil {
		g.logger.Warn().Str("user_id", c.user.ID).Err(err).Msg("Auto-join lookup failed")
		return
	}
	for _, roomID := range roomIDs {
		g.subscribe(ctx, c, roomID)
	}
}

// subscribe joins the socket to a room channel and announces presence.
func (g *Gateway) subscribe(ctx context.Context, c *client, roomID string) {
	g.index.add(roomID, c)
	c.joinRoom(roomID)
	if err := g.presence.AddToRoom(ctx, c.user.ID, roomID); err != nil {
		g.logger.Warn().Str("user_id", c.user.ID).Str("room_id", roomID).Err(err).Msg("addToRoom failed")
	}
	g.broadcastPresence(roomID, c.user.ID, model.PresenceOnline)
}

// disconnect tears the socket down: pumps stopped by the closed conn,
// presence cleaned up, offline announced to previously joined rooms.
func (g *Gateway) disconnect(c *client, reason string) {
	if _, loaded := g.clients.LoadAndDelete(c); !loaded {
		return
	}
	c.close()

	rooms := c.joinedRooms()
	g.index.removeAll(c)
	g.typing.stopUser(c.user.ID)
	g.guard.release()
	metrics.ConnectionsActive.Dec()
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	// Another socket of the same user may still be live; presence only
	// goes offline when this was the last one.
	if g.userSocketCount(c.user.ID) == 0 {
		if err := g.presence.CleanupUser(ctx, c.user.ID); err != nil {
			g.logger.Warn().Str("user_id", c.user.ID).Err(err).Msg("Presence cleanup failed")
		}
		for _, roomID := range rooms {
			g.broadcastPresence(roomID, c.user.ID, model.PresenceOffline)
		}
	}

	g.logger.Info().
		Int64("client_id", c.id).
		Str("user_id", c.user.ID).
		Str("reason", reason).
		Msg("Client disconnected")
}

func (g *Gateway) userSocketCount(userID string) int {
	count := 0
	g.clients.Range(func(key, _ any) bool {
		if key.(*client).user.ID == userID {
			count++
		}
		return true
	})
	return count
}

// broadcast fans an event out to every subscriber of a room channel.
// Slow clients drop the event instead of blocking the channel.
func (g *Gateway) broadcast(roomID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error().Str("event", event).Err(err).Msg("Broadcast marshal failed")
		return
	}
	subscribers := g.index.get(roomID)
	for _, c := range subscribers {
		if !c.enqueue(data) {
			metrics.EventsDropped.Inc()
			g.logger.Debug().Int64("client_id", c.id).Str("event", event).Msg("Send buffer full, event dropped")
		}
	}
	metrics.EventsBroadcast.WithLabelValues(event).Inc()
}

func (g *Gateway) broadcastPresence(roomID, userID, status string) {
	g.broadcast(roomID, "presence", serverEvent{
		Type:   "presence",
		RoomID: roomID,
		UserID: userID,
		Status: status,
	})
}

func (g *Gateway) typingExpired(roomID, userID string) {
	g.broadcast(roomID, "typing", serverEvent{
		Type:     "typing",
		RoomID:   roomID,
		UserID:   userID,
		IsTyping: boolPtr(false),
	})
}

// EmitMessageUpdated implements the pipeline's fan-out sink: a late
// moderation verdict reaches subscribed sockets as message_updated.
func (g *Gateway) EmitMessageUpdated(roomID string, msg model.Message) {
	g.broadcast(roomID, "message_updated", serverEvent{
		Type:    "message_updated",
		RoomID:  roomID,
		Message: &msg,
	})
}

// MessageCreated implements chat.Events.
func (g *Gateway) MessageCreated(roomID string, msg model.Message) {
	g.broadcast(roomID, "message_created", serverEvent{
		Type:    "message_created",
		RoomID:  roomID,
		Message: &msg,
	})
}

// MessageUpdated implements chat.Events.
func (g *Gateway) MessageUpdated(roomID string, msg model.Message) {
	g.EmitMessageUpdated(roomID, msg)
}

// MessageDeleted implements chat.Events.
func (g *Gateway) MessageDeleted(roomID, messageID string) {
	g.broadcast(roomID, "message_deleted", serverEvent{
		Type:      "message_deleted",
		RoomID:    roomID,
		MessageID: messageID,
	})
}

// sendError delivers an error frame to one client. Unauthorized and
// rate-limited errors terminate the socket after the frame.
func (g *Gateway) sendError(c *client, err error) (disconnect bool) {
	e := errs.AsError(err)
	frame := errorEvent{
		Type:       "error",
		Kind:       e.Kind.String(),
		Message:    e.Message,
		Fields:     e.Fields,
		RetryAfter: e.RetryAfter,
	}
	if data, merr := json.Marshal(frame); merr == nil {
		c.enqueue(data)
	}
	return e.Kind == errs.KindUnauthorized || e.Kind == errs.KindRateLimited
}

// serverEvent is the wire shape of every non-error gateway frame.
// Unused fields are omitted per event type.
type serverEvent struct {
	Type      string         `json:"type"`
	RoomID    string         `json:"roomId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Message   *model.Message `json:"message,omitempty"`
	Status    string         `json:"status,omitempty"`
	IsTyping  *bool          `json:"isTyping,omitempty"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
}

// errorEvent is the wire shape of an error frame.
type errorEvent struct {
	Type       string            `json:"type"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// bearerToken extracts the handshake token from the Authorization
// header or the token query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// clientIP prefers the first X-Forwarded-For hop over RemoteAddr.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
