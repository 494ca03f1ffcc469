// Package sync ingests gateway webhook events into the backend-of-record.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/snapshot"
	"github.com/matheus3301/wppcrm/internal/store"
)

// MediaMarker stands in for message content without text.
const MediaMarker = "[Mídia]"

// Payload validation errors.
var (
	ErrNoMessage   = errors.New("no message data")
	ErrNoRemoteJID = errors.New("no remoteJid")
)

// Event is the webhook envelope posted by the gateway.
type Event struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// IsUpsert reports whether event names the message-upserted notification.
// The gateway sends it dotted or upper-snake depending on configuration.
func IsUpsert(event string) bool {
	return event == "messages.upsert" || event == "MESSAGES_UPSERT"
}

// Result describes what one Ingest call did.
type Result struct {
	// Handled is false for events other than message upserts.
	Handled      bool
	Duplicate    bool
	Conversation *store.Conversation
}

// Engine applies webhook messages to the store and announces every change on
// the bus. It also mirrors messages sent through the outbox so the record's
// last message stays current before the gateway echoes them back.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	dedupe bool
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine. With dedupe set, a message id seen
// before is acknowledged without touching the record.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger, dedupe bool) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
		dedupe: dedupe,
	}
}

// Start subscribes to outbox acknowledgements on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindMessageSendAck, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleAck(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleAck(evt bus.Event) {
	entry, ok := evt.Payload.(*store.OutboxEntry)
	if !ok {
		return
	}
	in := &store.InboundMessage{
		RemoteJID:    entry.RemoteJID,
		InstanceName: entry.InstanceName,
		ContactPhone: phoneFromJID(entry.RemoteJID),
		Text:         entry.Body,
		FromMe:       true,
	}
	if e.dedupe {
		in.MessageID = entry.ServerMsgID
	}
	if _, err := e.apply(in); err != nil {
		e.logger.Error("failed to mirror sent message", zap.Error(err), zap.String("remote_jid", entry.RemoteJID))
	}
}

// Ingest handles one webhook event. Events other than message upserts are
// accepted without action. Validation failures return ErrNoMessage or
// ErrNoRemoteJID; anything else is a storage failure.
func (e *Engine) Ingest(evt *Event) (*Result, error) {
	if !IsUpsert(evt.Event) {
		return &Result{}, nil
	}
	in, err := ParseMessage(evt.Data)
	if err != nil {
		return nil, err
	}
	in.InstanceName = evt.Instance
	if !e.dedupe {
		in.MessageID = ""
	}
	return e.apply(in)
}

func (e *Engine) apply(in *store.InboundMessage) (*Result, error) {
	conv, dup, err := e.db.IngestInbound(in)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", in.RemoteJID, err)
	}
	if dup {
		e.logger.Debug("duplicate message ignored",
			zap.String("remote_jid", in.RemoteJID),
			zap.String("msg_id", in.MessageID))
		return &Result{Handled: true, Duplicate: true}, nil
	}

	e.logger.Info("conversation updated",
		zap.String("remote_jid", conv.RemoteJID),
		zap.Bool("from_me", in.FromMe),
		zap.Bool("is_open", conv.IsOpen),
		zap.Int("unread", conv.UnreadCount))
	e.bus.Emit(bus.KindConversationUpdated, conv)
	return &Result{Handled: true, Conversation: conv}, nil
}

type webhookMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string                     `json:"pushName"`
	Message  map[string]json.RawMessage `json:"message"`
}

// ParseMessage extracts the inbound message from an upsert payload. The
// payload is either {messages: [first, ...]} or the message itself.
func ParseMessage(data json.RawMessage) (*store.InboundMessage, error) {
	raw := firstMessage(data)
	if raw == nil {
		return nil, ErrNoMessage
	}
	var m webhookMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ErrNoRemoteJID
	}
	if m.Key.RemoteJID == "" {
		return nil, ErrNoRemoteJID
	}

	text := snapshot.Text(m.Message)
	if text == "" {
		text = MediaMarker
	}
	in := &store.InboundMessage{
		MessageID:    m.Key.ID,
		RemoteJID:    m.Key.RemoteJID,
		ContactPhone: phoneFromJID(m.Key.RemoteJID),
		Text:         text,
		FromMe:       m.Key.FromMe,
	}
	if !m.Key.FromMe {
		in.ContactName = m.PushName
	}
	return in, nil
}

func firstMessage(data json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || trimmed == "false" {
		return nil
	}
	var env struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if json.Unmarshal(data, &env) == nil && len(env.Messages) > 0 {
		first := strings.TrimSpace(string(env.Messages[0]))
		if first != "" && first != "null" {
			return env.Messages[0]
		}
	}
	return data
}

func phoneFromJID(jid string) string {
	jid = strings.TrimSuffix(jid, "@s.whatsapp.net")
	return strings.TrimSuffix(jid, "@g.us")
}
