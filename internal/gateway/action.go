package gateway

import (
	"net/http"
	"net/url"
)

// Action names a gateway operation. The string values are the action names
// accepted by the proxy endpoint.
type Action string

const (
	ActionFetchInstances Action = "fetchInstances"
	ActionGetQRCode      Action = "getQrCode"
	ActionInstanceStatus Action = "getInstanceStatus"
	ActionCreateInstance Action = "createInstance"
	ActionDeleteInstance Action = "deleteInstance"
	ActionGetChats       Action = "getChats"
	ActionGetMessages    Action = "getMessages"
	ActionSendMessage    Action = "sendMessage"
	ActionGetProfilePic  Action = "getProfilePic"
	ActionFetchPresence  Action = "fetchPresence"
	ActionLogout         Action = "logout"
	ActionMediaBase64    Action = "getBase64FromMediaMessage"
)

const messagePageLimit = 50

// Payload carries action arguments, mirroring the proxy's free-form data object.
type Payload map[string]any

func (p Payload) get(key string) any {
	if p == nil {
		return nil
	}
	return p[key]
}

type endpoint struct {
	method string
	path   func(instance string) string
	body   func(instance string, p Payload) any
}

func at(prefix string) func(string) string {
	return func(instance string) string { return prefix + url.PathEscape(instance) }
}

func fixed(path string) func(string) string {
	return func(string) string { return path }
}

func numberBody(_ string, p Payload) any {
	return map[string]any{"number": p.get("number")}
}

var endpoints = map[Action]endpoint{
	ActionCreateInstance: {http.MethodPost, fixed("/instance/create"), func(instance string, _ Payload) any {
		return map[string]any{
			"instanceName":    instance,
			"qrcode":          true,
			"integration":     "WHATSAPP-BAILEYS",
			"reject_call":     false,
			"groupsIgnore":    false,
			"alwaysOnline":    false,
			"readMessages":    false,
			"readStatus":      false,
			"syncFullHistory": false,
		}
	}},
	ActionGetQRCode:      {http.MethodGet, at("/instance/connect/"), nil},
	ActionInstanceStatus: {http.MethodGet, at("/instance/connectionState/"), nil},
	ActionFetchInstances: {http.MethodGet, fixed("/instance/fetchInstances"), nil},
	ActionDeleteInstance: {http.MethodDelete, at("/instance/delete/"), nil},
	ActionGetChats: {http.MethodPost, at("/chat/findChats/"), func(string, Payload) any {
		return map[string]any{}
	}},
	ActionGetMessages: {http.MethodPost, at("/chat/findMessages/"), func(_ string, p Payload) any {
		return map[string]any{
			"where": map[string]any{"key": map[string]any{"remoteJid": p.get("remoteJid")}},
			"limit": messagePageLimit,
		}
	}},
	ActionMediaBase64: {http.MethodPost, at("/chat/getBase64FromMediaMessage/"), func(_ string, p Payload) any {
		convert, ok := p.get("convertToMp4").(bool)
		if !ok {
			convert = true
		}
		return map[string]any{"message": p.get("message"), "convertToMp4": convert}
	}},
	ActionSendMessage: {http.MethodPost, at("/message/sendText/"), func(_ string, p Payload) any {
		return map[string]any{"number": p.get("number"), "text": p.get("text")}
	}},
	ActionGetProfilePic: {http.MethodPost, at("/chat/fetchProfilePictureUrl/"), numberBody},
	ActionFetchPresence: {http.MethodPost, at("/chat/fetchPresence/"), numberBody},
	ActionLogout:        {http.MethodDelete, at("/instance/logout/"), nil},
}

// Known reports whether a is a recognised action.
func (a Action) Known() bool {
	_, ok := endpoints[a]
	return ok
}
