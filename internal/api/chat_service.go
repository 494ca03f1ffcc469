package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/chatstate"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/presence"
	"github.com/matheus3301/wppcrm/internal/snapshot"
	"github.com/matheus3301/wppcrm/internal/store"
)

// MessageSource fetches a conversation's message page from the gateway.
type MessageSource interface {
	Messages(ctx context.Context, instance, remoteJID string) (*gateway.Response, error)
}

// ChatService serves the chat list, open and close actions, the chat-state
// endpoint and the backend-of-record view.
type ChatService struct {
	presence  *presence.Store
	chatstate *chatstate.Service
	db        *store.DB
	messages  MessageSource
	logger    *zap.Logger
}

// NewChatService creates a chat service.
func NewChatService(p *presence.Store, cs *chatstate.Service, db *store.DB, messages MessageSource, logger *zap.Logger) *ChatService {
	return &ChatService{presence: p, chatstate: cs, db: db, messages: messages, logger: logger}
}

// ListChats returns the last published snapshot.
func (s *ChatService) ListChats(w http.ResponseWriter, _ *http.Request) {
	chats := s.presence.Snapshot()
	if chats == nil {
		chats = []snapshot.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chats": chats,
		"open":  s.presence.OpenConversation(),
	})
}

// OpenChat marks a conversation as open.
func (s *ChatService) OpenChat(w http.ResponseWriter, r *http.Request) {
	jid := mux.Vars(r)["jid"]
	if err := s.presence.Open(r.Context(), jid); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "open": jid})
}

// CloseChat clears the open conversation.
func (s *ChatService) CloseChat(w http.ResponseWriter, _ *http.Request) {
	closed := s.presence.Close()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "closed": closed})
}

// Messages returns a conversation's latest messages, normalized.
func (s *ChatService) Messages(w http.ResponseWriter, r *http.Request) {
	jid := mux.Vars(r)["jid"]
	resp, err := s.messages.Messages(r.Context(), s.presence.Instance(), jid)
	if err != nil {
		s.logger.Warn("fetch messages failed", zap.String("remote_jid", jid), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": snapshot.NormalizeMessages(resp.Body)})
}

// ChatState sets the open flag of a conversation in the backend-of-record.
func (s *ChatService) ChatState(w http.ResponseWriter, r *http.Request) {
	var req chatstate.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := s.chatstate.SetState(req.RemoteJID, req.Open())
	switch {
	case errors.Is(err, chatstate.ErrMissingRemoteJID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("chat state update failed", zap.String("remote_jid", req.RemoteJID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": conv})
}

// ListConversations pages through the backend-of-record.
func (s *ChatService) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	convs, err := s.db.ListConversations(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"hasMore":       len(convs) == limit,
	})
}

// GetConversation returns one backend-of-record row.
func (s *ChatService) GetConversation(w http.ResponseWriter, r *http.Request) {
	jid := mux.Vars(r)["jid"]
	conv, err := s.db.GetConversation(jid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
