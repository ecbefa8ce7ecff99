// Package httpapi serves the REST surface. Handlers translate tagged
// service errors into the uniform envelope; all authorization decisions
// live in the services, keyed by an explicit principal.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/ratelimit"
)

// Server bundles the REST handlers and their dependencies.
type Server struct {
	auth     *auth.Service
	rooms    *chat.RoomService
	messages *chat.MessageService
	limiter  *ratelimit.Limiter
	origins  []string
	logger   zerolog.Logger

	// wsHandler serves the realtime upgrade at /chat; nil disables it.
	wsHandler http.HandlerFunc

	healthy func() error
}

// Config carries the HTTP surface configuration.
type Config struct {
	Origins []string
	// WSHandler, when set, is mounted at /chat.
	WSHandler http.HandlerFunc
	// Healthy reports readiness; nil means always ready.
	Healthy func() error
}

// New creates the REST server.
func New(cfg Config, authSvc *auth.Service, rooms *chat.RoomService, messages *chat.MessageService, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	return &Server{
		auth:      authSvc,
		rooms:     rooms,
		messages:  messages,
		limiter:   limiter,
		origins:   cfg.Origins,
		logger:    logger.With().Str("component", "http").Logger(),
		wsHandler: cfg.WSHandler,
		healthy:   cfg.Healthy,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.wsHandler != nil {
		r.Get("/chat", s.wsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		// Authenticated surface.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.rateLimitAPI)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/profile", s.handleProfile)

			r.Get("/users/me", s.handleProfile)
			r.Patch("/users/me", s.handleUpdateProfile)

			r.Route("/rooms", func(r chi.Router) {
				r.Post("/", s.handleCreateRoom)
				r.Get("/", s.handleListRooms)
				r.Get("/{id}", s.handleGetRoom)
				r.Patch("/{id}", s.handleUpdateRoom)
				r.Get("/{id}/members", s.handleListMembers)
				r.Post("/{id}/members", s.handleAddMember)
				r.Delete("/{id}/members/{userID}", s.handleRemoveMember)
				r.Patch("/{id}/members/{userID}/role", s.handleUpdateMemberRole)
				r.Post("/{id}/messages", s.handleSendMessage)
				r.Get("/{id}/messages", s.handleListMessages)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Get("/{id}", s.handleGetMessage)
				r.Patch("/{id}", s.handleUpdateMessage)
				r.Delete("/{id}", s.handleDeleteMessage)
			})

			// Admin surface.
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/users", s.handleListUsers)
				r.Get("/users/{id}", s.handleGetUser)
				r.Delete("/users/{id}", s.handleDeleteUser)
				r.Patch("/users/{id}/role", s.handleSetUserRole)
				r.Patch("/users/{id}/activate", s.handleActivateUser)
				r.Patch("/users/{id}/deactivate", s.handleDeactivateUser)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthy != nil {
		if err := s.healthy(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
