package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openinbox/inboxd/internal/gateway"
	"github.com/openinbox/inboxd/internal/models"
	"github.com/openinbox/inboxd/internal/notify"
	"github.com/openinbox/inboxd/internal/perm"
	"github.com/openinbox/inboxd/internal/store"
)

// authenticate resolves the caller from the Authorization bearer token and
// returns their permission snapshot. A nil return means the response has
// already been written.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) *perm.EffectivePermissions {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}

	userID, err := gateway.UserIDFromToken(token, s.jwtSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil
	}

	ep, err := s.epCache.GetEffectivePermissions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, perm.ErrUserNotFound) {
			writeError(w, http.StatusForbidden, "unknown user")
			return nil
		}
		slog.Error("Server.authenticate: permission lookup failed", "userID", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	return ep
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	ObjectKey      string `json:"object_key,omitempty"`
}

type sendMessageResponse struct {
	MessageID      string                `json:"message_id"`
	OutboxEntryID  string                `json:"outbox_entry_id"`
	DeliveryStatus models.DeliveryStatus `json:"delivery_status"`
}

// handleSendMessage accepts an outgoing message and enqueues it durably.
// Delivery is asynchronous; the response only confirms the intent to send
// is persisted.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ep := s.authenticate(w, r)
	if ep == nil {
		return
	}
	if !perm.HasPermission(ep, perm.PermSendMessages) {
		writeError(w, http.StatusForbidden, "missing messages:send permission")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := &models.Message{
		ConversationID: req.ConversationID,
		Text:           req.Text,
		ObjectKey:      req.ObjectKey,
	}
	if err := msg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.store.GetConversation(req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		slog.Error("Server.handleSendMessage: load conversation failed", "conversationID", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !perm.HasChannelAccess(ep, conv.ChannelID) {
		writeError(w, http.StatusForbidden, "channel not allowed")
		return
	}

	entry, err := s.store.EnqueueMessage(msg)
	if err != nil {
		slog.Error("Server.handleSendMessage: enqueue failed", "conversationID", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	slog.Info("Server.handleSendMessage: message enqueued",
		"messageID", msg.ID,
		"conversationID", conv.ID,
		"senderID", ep.UserID)

	s.gateway.BroadcastInbox(models.InboxEvent{
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Event:          models.Event{Type: models.EventMessageNew, Data: msg},
	})

	writeJSONResponse(w, http.StatusAccepted, sendMessageResponse{
		MessageID:      msg.ID,
		OutboxEntryID:  entry.ID,
		DeliveryStatus: models.DeliveryStatusQueued,
	})
}

type setAssigneeRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// handleSetAssignee updates a conversation's assignee and keeps the
// gateway's assignment index in sync. An empty assignee_id unassigns.
func (s *Server) handleSetAssignee(w http.ResponseWriter, r *http.Request) {
	ep := s.authenticate(w, r)
	if ep == nil {
		return
	}

	conversationID := chi.URLParam(r, "conversationID")

	var req setAssigneeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.SetAssignee(conversationID, req.AssigneeID); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		slog.Error("Server.handleSetAssignee: update failed", "conversationID", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.gateway.UpdateAssignment(conversationID, req.AssigneeID)
	slog.Info("Server.handleSetAssignee: assignee updated", "conversationID", conversationID, "assigneeID", req.AssigneeID)

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInvalidatePermissions triggers the version-bump, evict, publish
// sequence for a user after their grants or channel list changed.
func (s *Server) handleInvalidatePermissions(w http.ResponseWriter, r *http.Request) {
	ep := s.authenticate(w, r)
	if ep == nil {
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := s.epCache.InvalidateUser(r.Context(), userID); err != nil {
		if errors.Is(err, perm.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Server.handleInvalidatePermissions: invalidate failed", "userID", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOnlineUsers lists the users currently marked online.
func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	ep := s.authenticate(w, r)
	if ep == nil {
		return
	}

	users, err := s.gateway.OnlineUsers(r.Context())
	if err != nil {
		slog.Error("Server.handleOnlineUsers: presence lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	sort.Strings(users)
	writeJSONResponse(w, http.StatusOK, map[string][]string{"online": users})
}

// handleMessageStatus receives delivery-status callbacks from the outbox
// worker and fans them out to authorized websocket clients. Callers must
// present the shared status token; the route is reachable from outside.
func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(notify.StatusTokenHeader)), []byte(s.notifyToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid status token")
		return
	}

	var payload models.MessageStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := s.store.GetConversation(payload.ConversationID)
	if err != nil {
		// The conversation may have been removed since the send; there is
		// nobody left to notify.
		slog.Debug("Server.handleMessageStatus: conversation gone", "conversationID", payload.ConversationID)
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	s.gateway.BroadcastInbox(models.InboxEvent{
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Event:          models.Event{Type: models.EventMessageStatus, Data: payload},
	})
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
