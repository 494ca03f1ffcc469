package snapshot

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Message is one normalised entry of a conversation's message page.
type Message struct {
	ID        string          `json:"id"`
	RemoteJID string          `json:"remoteJid"`
	FromMe    bool            `json:"fromMe"`
	PushName  string          `json:"pushName,omitempty"`
	Type      string          `json:"type,omitempty"`
	Text      string          `json:"text,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type messageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type rawMessage struct {
	Key              messageKey                 `json:"key"`
	PushName         string                     `json:"pushName"`
	MessageType      string                     `json:"messageType"`
	Message          map[string]json.RawMessage `json:"message"`
	MessageTimestamp json.RawMessage            `json:"messageTimestamp"`
}

var mediaLabels = []struct {
	kind  string
	label string
}{
	{"imageMessage", "📷 Foto"},
	{"videoMessage", "🎥 Vídeo"},
	{"audioMessage", "🎵 Áudio"},
	{"documentMessage", "📄 Documento"},
	{"stickerMessage", "🏷️ Figurinha"},
	{"contactMessage", "👤 Contato"},
	{"locationMessage", "📍 Localização"},
}

// GenericMedia is the placeholder for content with no text and no known type.
const GenericMedia = "📎 Mídia"

// Text returns the text of a WhatsApp message content object, from either
// of the two text encodings. Empty when the content carries no text.
func Text(content map[string]json.RawMessage) string {
	if raw, ok := content["conversation"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	if raw, ok := content["extendedTextMessage"]; ok {
		var ext struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(raw, &ext) == nil && ext.Text != "" {
			return ext.Text
		}
	}
	return ""
}

// mediaKind returns the first known media type present in content, falling
// back to the declared messageType.
func mediaKind(content map[string]json.RawMessage, declared string) string {
	for _, m := range mediaLabels {
		if _, ok := content[m.kind]; ok {
			return m.kind
		}
	}
	return declared
}

// Placeholder returns the emoji label for a media kind, or GenericMedia.
func Placeholder(kind string) string {
	for _, m := range mediaLabels {
		if m.kind == kind {
			return m.label
		}
	}
	return GenericMedia
}

// parseTimestamp accepts seconds or milliseconds as a number, a numeric
// string, or a {low, high} long. Millisecond values are scaled to seconds.
func parseTimestamp(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var ts int64
	var f float64
	var s string
	var long struct {
		Low  int64 `json:"low"`
		High int64 `json:"high"`
	}
	switch {
	case json.Unmarshal(raw, &f) == nil:
		ts = int64(f)
	case json.Unmarshal(raw, &s) == nil:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0
		}
		ts = n
	case json.Unmarshal(raw, &long) == nil:
		ts = long.High<<32 | (long.Low & 0xffffffff)
	}
	if ts > 1e12 {
		ts /= 1000
	}
	if ts < 0 {
		return 0
	}
	return ts
}

func parseRFC3339(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// NormalizeMessages converts a getMessages response into messages. Accepted
// encodings are a bare array, {messages: [...]}, {messages: {records: [...]}}
// and {data: [...]}. Entries that fail to decode are dropped.
func NormalizeMessages(raw json.RawMessage) []Message {
	entries := messageEntries(raw)
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		var m rawMessage
		if json.Unmarshal(e, &m) != nil || m.Key.RemoteJID == "" {
			continue
		}
		kind := m.MessageType
		text := Text(m.Message)
		if text == "" {
			kind = mediaKind(m.Message, m.MessageType)
		}
		out = append(out, Message{
			ID:        m.Key.ID,
			RemoteJID: m.Key.RemoteJID,
			FromMe:    m.Key.FromMe,
			PushName:  m.PushName,
			Type:      kind,
			Text:      text,
			Timestamp: parseTimestamp(m.MessageTimestamp),
			Raw:       e,
		})
	}
	return out
}

func messageEntries(raw json.RawMessage) []json.RawMessage {
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		return arr
	}
	var env struct {
		Messages json.RawMessage `json:"messages"`
		Data     json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &env) != nil {
		return nil
	}
	if len(env.Messages) > 0 {
		if json.Unmarshal(env.Messages, &arr) == nil {
			return arr
		}
		var page struct {
			Records []json.RawMessage `json:"records"`
		}
		if json.Unmarshal(env.Messages, &page) == nil {
			return page.Records
		}
	}
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &arr) == nil {
		return arr
	}
	return nil
}
