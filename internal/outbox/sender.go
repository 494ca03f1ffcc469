// Package outbox queues outgoing text messages and sends them through the
// gateway in the background.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/store"
)

// DrainInterval is how often the sender looks for queued messages.
const DrainInterval = 500 * time.Millisecond

// ErrEmptyMessage is returned when queuing a message without text.
var ErrEmptyMessage = errors.New("message text is empty")

// TextSender sends a text message to a phone number or group id.
type TextSender interface {
	SendText(ctx context.Context, instance, number, text string) (serverMsgID string, err error)
}

// Sender drains the outbox and sends messages via the gateway.
type Sender struct {
	db       *store.DB
	sender   TextSender
	bus      *bus.Bus
	instance string
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewSender creates a new outbox sender for instance.
func NewSender(db *store.DB, sender TextSender, b *bus.Bus, instance string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		sender:   sender,
		bus:      b,
		instance: instance,
		logger:   logger,
	}
}

// Queue stores a message for remoteJID and returns its entry. Delivery
// happens on the next drain.
func (s *Sender) Queue(remoteJID, text string) (*store.OutboxEntry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	id := uuid.NewString()
	if err := s.db.QueueOutbox(id, remoteJID, s.instance, text); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}
	entry, err := s.db.GetOutbox(id)
	if err != nil {
		return nil, fmt.Errorf("read queued message: %w", err)
	}
	s.bus.Emit(bus.KindMessageQueued, entry)
	return entry, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		claimed, err := s.db.MarkOutboxSending(entry.ClientMsgID)
		if err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		if !claimed {
			continue
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	number := gateway.NumberFromJID(entry.RemoteJID)
	serverMsgID, err := s.sender.SendText(ctx, entry.InstanceName, number, entry.Body)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		if err := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); err != nil {
			s.logger.Error("failed to mark failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		entry.Status, entry.ErrorMessage = "failed", err.Error()
		s.bus.Emit(bus.KindMessageSendFailed, &entry)
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", serverMsgID))

	entry.Status, entry.ServerMsgID = "sent", serverMsgID
	s.bus.Emit(bus.KindMessageSendAck, &entry)
}
