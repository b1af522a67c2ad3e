// Package gateway serves the realtime websocket surface: authenticated
// connections, permission-aware event fan-out, presence, and live
// permission updates.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/openinbox/inboxd/internal/cache"
	"github.com/openinbox/inboxd/internal/metrics"
	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/perm"
	"github.com/openinbox/inboxd/internal/store"
	"github.com/openinbox/inboxd/internal/util"
)

// session is one authorized connection plus its current permission
// snapshot. The snapshot is swapped in place when the user's permissions
// change, so later events are filtered under the new rules without a
// reconnect.
type session struct {
	client *Client

	mu sync.RWMutex
	ep *perm.EffectivePermissions
}

func (s *session) snapshot() *perm.EffectivePermissions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ep
}

func (s *session) setSnapshot(ep *perm.EffectivePermissions) {
	s.mu.Lock()
	s.ep = ep
	s.mu.Unlock()
}

// Gateway owns the websocket connection table and fan-out.
type Gateway struct {
	epCache   *perm.EPCache
	cache     cache.Cache
	store     store.MessageStore
	jwtSecret string

	mu          sync.RWMutex
	sessions    map[string]*session            // conn id -> session
	byUser      map[string]map[string]*session // user id -> conn id -> session
	assignments map[string]string              // conversation id -> assignee id
}

// NewGateway creates a gateway with an empty connection table.
func NewGateway(epCache *perm.EPCache, c cache.Cache, st store.MessageStore, jwtSecret string) *Gateway {
	return &Gateway{
		epCache:     epCache,
		cache:       c,
		store:       st,
		jwtSecret:   jwtSecret,
		sessions:    make(map[string]*session),
		byUser:      make(map[string]map[string]*session),
		assignments: make(map[string]string),
	}
}

// LoadAssignments primes the in-memory assignment index from the store.
// Call once at startup before serving connections.
func (g *Gateway) LoadAssignments() error {
	assignments, err := g.store.ListAssignments()
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.assignments = assignments
	g.mu.Unlock()
	slog.Info("Gateway.LoadAssignments: assignment index loaded", "count", len(assignments))
	return nil
}

// UpdateAssignment keeps the assignment index in sync after a
// conversation's assignee changes. An empty assigneeID clears it.
func (g *Gateway) UpdateAssignment(conversationID, assigneeID string) {
	g.mu.Lock()
	if assigneeID == "" {
		delete(g.assignments, conversationID)
	} else {
		g.assignments[conversationID] = assigneeID
	}
	g.mu.Unlock()
}

// Run listens for permission-change notifications and refreshes affected
// sessions until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	events, err := g.cache.Subscribe(ctx, cache.PermEventsChannel)
	if err != nil {
		return err
	}
	slog.Info("Gateway.Run: subscribed to permission events", "channel", cache.PermEventsChannel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case userID, ok := <-events:
			if !ok {
				return nil
			}
			g.refreshUser(ctx, userID)
		}
	}
}

// HandleWS upgrades the request to a websocket after authenticating the
// token query parameter and resolving the user's permissions.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromToken(r.URL.Query().Get("token"), g.jwtSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ep, err := g.epCache.GetEffectivePermissions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, perm.ErrUserNotFound) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		slog.Error("Gateway.HandleWS: permission lookup failed", "userID", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Debug("Gateway.HandleWS: accept failed", "userID", userID, "error", err)
		return
	}

	client := newClient(util.GenerateConnectionID(), userID, conn)
	sess := &session{client: client, ep: ep}

	// Hello is queued before the session is visible to any broadcaster,
	// so no fan-out can slot an event ahead of it.
	client.Enqueue(models.Event{
		Type: models.EventHello,
		Data: models.HelloPayload{Ver: ep.Ver, Permissions: ep.Permissions},
	})
	g.register(r.Context(), sess)
	defer g.unregister(r.Context(), sess)

	ctx := r.Context()
	go client.writeLoop(ctx)
	go client.keepAliveLoop(ctx)

	slog.Info("Gateway.HandleWS: client connected", "connID", client.ID, "userID", userID)
	g.readLoop(ctx, client)
	client.shutdown(websocket.StatusNormalClosure, "")
	slog.Info("Gateway.HandleWS: client disconnected", "connID", client.ID, "userID", userID)
}

// readLoop consumes frames from the client until the connection drops.
// The only client-originated frame type is the typing indicator.
func (g *Gateway) readLoop(ctx context.Context, client *Client) {
	for {
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, client.conn, &frame); err != nil {
			return
		}

		switch frame.Type {
		case models.EventTyping:
			var payload models.TypingPayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				slog.Debug("Gateway.readLoop: bad typing payload", "connID", client.ID, "error", err)
				continue
			}
			payload.UserID = client.UserID
			g.relayTyping(payload)
		default:
			slog.Debug("Gateway.readLoop: ignoring frame", "connID", client.ID, "type", frame.Type)
		}
	}
}

// relayTyping fans a typing indicator out to everyone who can see the
// conversation, except the typist.
func (g *Gateway) relayTyping(payload models.TypingPayload) {
	conv, err := g.store.GetConversation(payload.ConversationID)
	if err != nil {
		slog.Debug("Gateway.relayTyping: unknown conversation", "conversationID", payload.ConversationID)
		return
	}
	g.broadcastInbox(models.InboxEvent{
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Event:          models.Event{Type: models.EventTyping, Data: payload},
	}, payload.UserID)
}

// BroadcastInbox delivers a conversation-scoped event to every connection
// whose permissions authorize visibility of that conversation.
func (g *Gateway) BroadcastInbox(ev models.InboxEvent) {
	g.broadcastInbox(ev, "")
}

func (g *Gateway) broadcastInbox(ev models.InboxEvent, skipUserID string) {
	g.mu.RLock()
	assigneeID := g.assignments[ev.ConversationID]
	targets := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		targets = append(targets, sess)
	}
	g.mu.RUnlock()

	for _, sess := range targets {
		if skipUserID != "" && sess.client.UserID == skipUserID {
			continue
		}
		if !visible(sess.snapshot(), assigneeID, ev.ChannelID) {
			continue
		}
		if sess.client.Enqueue(ev.Event) {
			metrics.IncEventsFannedOut()
		}
	}
}

// broadcastAll delivers an event to every connection, unfiltered. Used for
// presence, which is not conversation-scoped. skipConnID suppresses
// delivery to one connection (a client needs no notice of its own arrival).
func (g *Gateway) broadcastAll(ev models.Event, skipConnID string) {
	g.mu.RLock()
	targets := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		targets = append(targets, sess)
	}
	g.mu.RUnlock()

	for _, sess := range targets {
		if sess.client.ID == skipConnID {
			continue
		}
		if sess.client.Enqueue(ev) {
			metrics.IncEventsFannedOut()
		}
	}
}

// OnlineUsers lists the users currently marked online in the shared cache.
func (g *Gateway) OnlineUsers(ctx context.Context) ([]string, error) {
	return g.cache.SMembers(ctx, cache.OnlineUsersKey)
}

func (g *Gateway) register(ctx context.Context, sess *session) {
	userID := sess.client.UserID

	g.mu.Lock()
	g.sessions[sess.client.ID] = sess
	conns, ok := g.byUser[userID]
	if !ok {
		conns = make(map[string]*session)
		g.byUser[userID] = conns
	}
	firstConn := len(conns) == 0
	conns[sess.client.ID] = sess
	g.mu.Unlock()

	metrics.IncWebsocketConnections()

	if firstConn {
		if err := g.cache.SAdd(ctx, cache.OnlineUsersKey, userID); err != nil {
			slog.Warn("Gateway.register: presence update failed", "userID", userID, "error", err)
		}
		g.broadcastAll(models.Event{Type: models.EventUserOnline, Data: models.PresencePayload{UserID: userID}}, sess.client.ID)
	}
}

func (g *Gateway) unregister(ctx context.Context, sess *session) {
	userID := sess.client.UserID

	g.mu.Lock()
	delete(g.sessions, sess.client.ID)
	conns := g.byUser[userID]
	delete(conns, sess.client.ID)
	lastConn := len(conns) == 0
	if lastConn {
		delete(g.byUser, userID)
	}
	g.mu.Unlock()

	metrics.DecWebsocketConnections()

	if lastConn {
		if err := g.cache.SRem(ctx, cache.OnlineUsersKey, userID); err != nil {
			slog.Warn("Gateway.unregister: presence update failed", "userID", userID, "error", err)
		}
		g.broadcastAll(models.Event{Type: models.EventUserOffline, Data: models.PresencePayload{UserID: userID}}, "")
	}
}

// refreshUser re-resolves a user's permissions after an invalidation and
// applies the new snapshot to their live sessions.
func (g *Gateway) refreshUser(ctx context.Context, userID string) {
	g.mu.RLock()
	targets := make([]*session, 0, len(g.byUser[userID]))
	for _, sess := range g.byUser[userID] {
		targets = append(targets, sess)
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	ep, err := g.epCache.GetEffectivePermissions(ctx, userID)
	if err != nil {
		if errors.Is(err, perm.ErrUserNotFound) {
			slog.Info("Gateway.refreshUser: user removed, closing sessions", "userID", userID)
			for _, sess := range targets {
				sess.client.shutdown(websocket.StatusPolicyViolation, "account removed")
			}
			return
		}
		slog.Error("Gateway.refreshUser: permission refresh failed", "userID", userID, "error", err)
		return
	}

	update := models.Event{
		Type: models.EventPermissionsUpdated,
		Data: models.PermissionsUpdatedPayload{Ver: ep.Ver, Permissions: ep.Permissions},
	}
	for _, sess := range targets {
		sess.setSnapshot(ep)
		sess.client.Enqueue(update)
	}
	slog.Debug("Gateway.refreshUser: sessions updated", "userID", userID, "ver", ep.Ver, "sessions", len(targets))
}
