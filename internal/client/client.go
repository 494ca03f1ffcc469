// Package client is the HTTP client crmctl uses to talk to a running crmd.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/snapshot"
	"github.com/matheus3301/wppcrm/internal/store"
)

// ErrNotPairing is returned by QR when the daemon has no pending pairing.
var ErrNotPairing = errors.New("no pairing in progress")

// Error is a non-2xx daemon reply.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client wraps the daemon's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon listening on addr, given as host:port
// or as a full URL.
func New(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status returns the daemon's connection state.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var st api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Connect starts polling or pairing.
func (c *Client) Connect(ctx context.Context) (*api.StatusResponse, error) {
	var st api.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/connect", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Disconnect logs the instance out.
func (c *Client) Disconnect(ctx context.Context) (*api.StatusResponse, error) {
	var st api.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/disconnect", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// QR returns the pending pairing code.
func (c *Client) QR(ctx context.Context) (*gateway.QRCode, error) {
	var qr gateway.QRCode
	err := c.do(ctx, http.MethodGet, "/api/v1/qr", nil, &qr)
	var e *Error
	if errors.As(err, &e) && e.Status == http.StatusNotFound {
		return nil, ErrNotPairing
	}
	if err != nil {
		return nil, err
	}
	return &qr, nil
}

// ChatList is the published chat snapshot.
type ChatList struct {
	Chats []snapshot.Summary `json:"chats"`
	Open  string             `json:"open"`
}

// Chats returns the last published snapshot.
func (c *Client) Chats(ctx context.Context) (*ChatList, error) {
	var list ChatList
	if err := c.do(ctx, http.MethodGet, "/api/v1/chats", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Open marks a conversation as open.
func (c *Client) Open(ctx context.Context, jid string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/chats/"+url.PathEscape(jid)+"/open", nil, nil)
}

// Close clears the open conversation and returns its JID.
func (c *Client) Close(ctx context.Context) (string, error) {
	var out struct {
		Closed string `json:"closed"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/chats/close", nil, &out); err != nil {
		return "", err
	}
	return out.Closed, nil
}

// Send queues a text message.
func (c *Client) Send(ctx context.Context, jid, text string) (*store.OutboxEntry, error) {
	var entry store.OutboxEntry
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/api/v1/chats/"+url.PathEscape(jid)+"/messages", body, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Outbox returns a queued message by client id.
func (c *Client) Outbox(ctx context.Context, id string) (*store.OutboxEntry, error) {
	var entry store.OutboxEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/outbox/"+url.PathEscape(id), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Conversations returns backend-of-record rows, newest first.
func (c *Client) Conversations(ctx context.Context, limit int) ([]store.Conversation, error) {
	var out struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}
