// Package chatstate records which conversation a person has open and
// clears its unread count when they open it.
package chatstate

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/store"
)

// ErrMissingRemoteJID is returned when a request names no conversation.
var ErrMissingRemoteJID = errors.New("remoteJid is required")

// Request is the body of a chat-state call. IsOpen defaults to true.
type Request struct {
	RemoteJID string `json:"remoteJid"`
	IsOpen    *bool  `json:"isOpen"`
}

// Open resolves the requested flag.
func (r Request) Open() bool {
	return r.IsOpen == nil || *r.IsOpen
}

// Service updates the open flag of conversations in the backend-of-record.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a chat-state service.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, bus: b, logger: logger}
}

// SetState opens or closes remoteJID. Opening zeroes the unread count in the
// same update; closing only clears the flag. A conversation the backend has
// never seen is not created, and the result is nil.
func (s *Service) SetState(remoteJID string, open bool) (*store.Conversation, error) {
	if remoteJID == "" {
		return nil, ErrMissingRemoteJID
	}
	conv, err := s.db.SetConversationOpen(remoteJID, open)
	if err != nil {
		return nil, fmt.Errorf("set chat state %s: %w", remoteJID, err)
	}
	if conv == nil {
		s.logger.Debug("chat state for unknown conversation", zap.String("remote_jid", remoteJID), zap.Bool("open", open))
		return nil, nil
	}
	s.logger.Info("chat state updated", zap.String("remote_jid", remoteJID), zap.Bool("open", open))
	s.bus.Emit(bus.KindConversationUpdated, conv)
	return conv, nil
}
