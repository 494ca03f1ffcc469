package gateway

import (
	"context"
	"strings"
)

// call invokes action and turns business failures into *APIError while still
// returning the response for inspection.
func (c *Client) call(ctx context.Context, action Action, instance string, p Payload) (*Response, error) {
	resp, err := c.Invoke(ctx, action, instance, p)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// FetchInstances lists every instance known to the gateway.
func (c *Client) FetchInstances(ctx context.Context) (*Response, error) {
	return c.call(ctx, ActionFetchInstances, "", nil)
}

// Chats returns the raw chat list of instance.
func (c *Client) Chats(ctx context.Context, instance string) (*Response, error) {
	return c.call(ctx, ActionGetChats, instance, nil)
}

// Messages returns the latest page of messages in remoteJID.
func (c *Client) Messages(ctx context.Context, instance, remoteJID string) (*Response, error) {
	return c.call(ctx, ActionGetMessages, instance, Payload{"remoteJid": remoteJID})
}

// SendText sends a text message and returns the gateway's message id, if any.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (string, error) {
	resp, err := c.call(ctx, ActionSendMessage, instance, Payload{"number": number, "text": text})
	if err != nil {
		return "", err
	}
	var sent struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	_ = resp.Decode(&sent)
	return sent.Key.ID, nil
}

// ProfilePicture returns the avatar URL for number, or "" when it has none.
func (c *Client) ProfilePicture(ctx context.Context, instance, number string) (string, error) {
	resp, err := c.call(ctx, ActionGetProfilePic, instance, Payload{"number": number})
	if err != nil {
		return "", err
	}
	var pic struct {
		URL string `json:"profilePictureUrl"`
	}
	_ = resp.Decode(&pic)
	return pic.URL, nil
}

// ConnectionState returns the instance state reported by the gateway
// ("open", "connecting", "close").
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	resp, err := c.call(ctx, ActionInstanceStatus, instance, nil)
	if err != nil {
		return "", err
	}
	var st struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	if err := resp.Decode(&st); err != nil {
		return "", err
	}
	if st.Instance.State != "" {
		return st.Instance.State, nil
	}
	return st.State, nil
}

// QRCode is the pairing material returned while an instance awaits a scan.
type QRCode struct {
	Base64      string `json:"base64,omitempty"`
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	// Created is set when the instance did not exist and was created to
	// obtain the code.
	Created bool `json:"created,omitempty"`
}

// Empty reports whether the gateway returned no pairing material, which
// happens when the instance is already connected.
func (q *QRCode) Empty() bool {
	return q.Base64 == "" && q.Code == "" && q.PairingCode == ""
}

type qrBody struct {
	Base64      string `json:"base64"`
	Code        string `json:"code"`
	PairingCode string `json:"pairingCode"`
	QRCode      struct {
		Base64      string `json:"base64"`
		Code        string `json:"code"`
		PairingCode string `json:"pairingCode"`
	} `json:"qrcode"`
}

func (b qrBody) qr() *QRCode {
	return &QRCode{
		Base64:      firstNonEmpty(b.Base64, b.QRCode.Base64),
		Code:        firstNonEmpty(b.Code, b.QRCode.Code),
		PairingCode: firstNonEmpty(b.PairingCode, b.QRCode.PairingCode),
	}
}

// QRCode requests pairing material for instance, creating the instance first
// when the gateway does not know it.
func (c *Client) QRCode(ctx context.Context, instance string) (*QRCode, error) {
	resp, err := c.call(ctx, ActionGetQRCode, instance, nil)
	if IsInstanceNotFound(err) {
		resp, err = c.call(ctx, ActionCreateInstance, instance, nil)
		if err != nil {
			return nil, err
		}
		var body qrBody
		_ = resp.Decode(&body)
		qr := body.qr()
		qr.Created = true
		return qr, nil
	}
	if err != nil {
		return nil, err
	}
	var body qrBody
	_ = resp.Decode(&body)
	return body.qr(), nil
}

// Logout ends the WhatsApp session of instance.
func (c *Client) Logout(ctx context.Context, instance string) error {
	_, err := c.call(ctx, ActionLogout, instance, nil)
	return err
}

// NumberFromJID strips the WhatsApp JID suffix, leaving the phone or group id.
func NumberFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
