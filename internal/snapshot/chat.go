// Package snapshot turns the gateway's loosely shaped list responses into
// canonical conversation summaries, instances and messages.
package snapshot

import (
	"encoding/json"
	"strings"
)

// PreviewLimit is the maximum preview length in characters.
const PreviewLimit = 100

// GroupLabel names group conversations that carry no explicit name.
const GroupLabel = "Grupo"

// Summary is one conversation of a poll snapshot. UnreadCount is filled in by
// reconciliation; GatewayUnread is whatever the gateway reported, kept for
// diagnostics only.
type Summary struct {
	RemoteID             string `json:"remoteId"`
	DisplayName          string `json:"displayName"`
	AvatarURL            string `json:"avatarUrl,omitempty"`
	LastMessagePreview   string `json:"lastMessagePreview"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp"`
	LastMessageIsSelf    bool   `json:"lastMessageIsSelf"`
	GatewayUnread        int    `json:"gatewayUnread"`
	UnreadCount          int    `json:"unreadCount"`
}

// IsGroup reports whether the conversation is a group chat.
func (s Summary) IsGroup() bool {
	return strings.HasSuffix(s.RemoteID, "@g.us")
}

type rawChat struct {
	ID             string          `json:"id"`
	RemoteJID      string          `json:"remoteJid"`
	Name           string          `json:"name"`
	PushName       string          `json:"pushName"`
	ProfilePicURL  string          `json:"profilePicUrl"`
	UnreadCount    json.RawMessage `json:"unreadCount"`
	UpdatedAt      string          `json:"updatedAt"`
	LastMsgContent json.RawMessage `json:"lastMsgContent"`
	LastMessage    *rawMessage     `json:"lastMessage"`
}

// Normalize converts a getChats response into summaries in gateway order.
// Entries without a derivable remote JID, or that fail to decode, are dropped.
func Normalize(raw json.RawMessage) []Summary {
	_, entries := Classify(raw)
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		var c rawChat
		if json.Unmarshal(e, &c) != nil {
			continue
		}
		if s, ok := c.summary(); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *rawChat) remoteJID() string {
	if c.RemoteJID != "" {
		return c.RemoteJID
	}
	if strings.Contains(c.ID, "@") {
		return c.ID
	}
	if c.LastMessage != nil {
		return c.LastMessage.Key.RemoteJID
	}
	return ""
}

func (c *rawChat) summary() (Summary, bool) {
	jid := c.remoteJID()
	if jid == "" {
		return Summary{}, false
	}
	s := Summary{
		RemoteID:      jid,
		AvatarURL:     c.ProfilePicURL,
		GatewayUnread: parseCount(c.UnreadCount),
	}
	s.DisplayName = c.displayName(jid)
	s.LastMessagePreview = truncate(c.preview(), PreviewLimit)
	if c.LastMessage != nil {
		s.LastMessageIsSelf = c.LastMessage.Key.FromMe
		s.LastMessageTimestamp = parseTimestamp(c.LastMessage.MessageTimestamp)
	}
	if s.LastMessageTimestamp == 0 {
		s.LastMessageTimestamp = parseRFC3339(c.UpdatedAt)
	}
	return s, true
}

func (c *rawChat) displayName(jid string) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PushName != "":
		return c.PushName
	case c.LastMessage != nil && !c.LastMessage.Key.FromMe && c.LastMessage.PushName != "":
		return c.LastMessage.PushName
	case strings.HasSuffix(jid, "@g.us"):
		return GroupLabel
	default:
		return phoneFromJID(jid)
	}
}

func (c *rawChat) preview() string {
	var legacy string
	if len(c.LastMsgContent) > 0 {
		_ = json.Unmarshal(c.LastMsgContent, &legacy)
	}
	if c.LastMessage == nil {
		return legacy
	}
	if text := Text(c.LastMessage.Message); text != "" {
		return text
	}
	kind := mediaKind(c.LastMessage.Message, c.LastMessage.MessageType)
	if label := Placeholder(kind); label != GenericMedia {
		return label
	}
	if legacy != "" {
		return legacy
	}
	return GenericMedia
}

func parseCount(raw json.RawMessage) int {
	var n float64
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil || n < 0 {
		return 0
	}
	return int(n)
}

func phoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// truncate cuts s to at most n characters, counting runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
