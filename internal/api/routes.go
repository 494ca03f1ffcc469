// Package api serves the daemon's HTTP surface: gateway webhooks, the
// chat-state endpoint, the gateway proxy and the UI's chat API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Services groups every handler set mounted by Register.
type Services struct {
	Webhook *WebhookService
	Chat    *ChatService
	Message *MessageService
	Session *SessionService
	Proxy   *ProxyService
	// Stream upgrades websocket clients. Optional.
	Stream http.HandlerFunc
}

// Register mounts all routes on r.
func (s *Services) Register(r *mux.Router) {
	r.HandleFunc("/webhook", s.Webhook.Evolution).Methods(http.MethodPost)
	r.HandleFunc("/webhook/evolution", s.Webhook.Evolution).Methods(http.MethodPost)
	r.HandleFunc("/webhook/connection", s.Webhook.Connection).Methods(http.MethodPost)
	r.HandleFunc("/chat-state", s.Chat.ChatState).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/evolution", s.Proxy.Evolution).Methods(http.MethodPost)

	v1.HandleFunc("/status", s.Session.GetStatus).Methods(http.MethodGet)
	v1.HandleFunc("/connect", s.Session.Connect).Methods(http.MethodPost)
	v1.HandleFunc("/disconnect", s.Session.Disconnect).Methods(http.MethodPost)
	v1.HandleFunc("/qr", s.Session.GetQR).Methods(http.MethodGet)
	v1.HandleFunc("/instances/{name}/connection", s.Session.InstanceConnection).Methods(http.MethodGet)

	v1.HandleFunc("/chats", s.Chat.ListChats).Methods(http.MethodGet)
	v1.HandleFunc("/chats/close", s.Chat.CloseChat).Methods(http.MethodPost)
	v1.HandleFunc("/chats/{jid}/open", s.Chat.OpenChat).Methods(http.MethodPost)
	v1.HandleFunc("/chats/{jid}/messages", s.Chat.Messages).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{jid}/messages", s.Message.SendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/outbox/{id}", s.Message.GetOutbox).Methods(http.MethodGet)

	v1.HandleFunc("/conversations", s.Chat.ListConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{jid}", s.Chat.GetConversation).Methods(http.MethodGet)

	if s.Stream != nil {
		v1.HandleFunc("/ws", s.Stream)
	}
}
