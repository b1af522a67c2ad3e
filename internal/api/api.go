// Package api provides the HTTP surface of inboxd: message enqueue,
// conversation assignment, permission invalidation, the websocket
// endpoint, and operational routes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openinbox/inboxd/internal/gateway"
	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/perm"
	"github.com/openinbox/inboxd/internal/store"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store       store.MessageStore
	epCache     *perm.EPCache
	gateway     *gateway.Gateway
	jwtSecret   string
	notifyToken string
}

// NewServer creates an API server. notifyToken is the shared secret the
// outbox worker's status callbacks must present.
func NewServer(st store.MessageStore, epCache *perm.EPCache, gw *gateway.Gateway, jwtSecret, notifyToken string) *Server {
	return &Server{store: st, epCache: epCache, gateway: gw, jwtSecret: jwtSecret, notifyToken: notifyToken}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", s.gateway.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleSendMessage)
		r.Post("/conversations/{conversationID}/assignee", s.handleSetAssignee)
		r.Post("/users/{userID}/permissions/invalidate", s.handleInvalidatePermissions)
		r.Get("/presence/online", s.handleOnlineUsers)
	})

	// Internal callback target for the outbox worker's status notifier.
	r.Post("/internal/message-status", s.handleMessageStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
