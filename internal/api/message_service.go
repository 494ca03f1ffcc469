package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/matheus3301/wppcrm/internal/outbox"
	"github.com/matheus3301/wppcrm/internal/store"
)

// MessageService queues outgoing messages and reports their delivery.
type MessageService struct {
	sender *outbox.Sender
	db     *store.DB
}

// NewMessageService creates a message service.
func NewMessageService(sender *outbox.Sender, db *store.DB) *MessageService {
	return &MessageService{sender: sender, db: db}
}

type sendRequest struct {
	Text string `json:"text"`
}

// SendMessage queues a text message. Delivery is reported on the websocket.
func (s *MessageService) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := s.sender.Queue(mux.Vars(r)["jid"], req.Text)
	if errors.Is(err, outbox.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

// GetOutbox returns one queued message by client id.
func (s *MessageService) GetOutbox(w http.ResponseWriter, r *http.Request) {
	entry, err := s.db.GetOutbox(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
